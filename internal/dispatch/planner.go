package dispatch

// PlanBatches partitions an ordered recipient list into fixed-size,
// order-preserving batches. The final batch may be shorter than batchSize.
// A batchSize below one is treated as one.
func PlanBatches(recipients []string, batchSize int) [][]string {
	if len(recipients) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = 1
	}

	batches := make([][]string, 0, BatchCount(len(recipients), batchSize))
	for start := 0; start < len(recipients); start += batchSize {
		end := start + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}

// BatchCount returns ceil(n / batchSize).
func BatchCount(n, batchSize int) int {
	if n <= 0 {
		return 0
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return (n + batchSize - 1) / batchSize
}
