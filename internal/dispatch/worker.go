package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/models"
)

// runJob drives the batches of one queued send strictly in sequence:
// QUEUED -> PROCESSING(batch 1..k) -> COMPLETE. Failures are isolated per
// recipient; every attempt produces a ledger row regardless of outcome. The
// inter-batch delay is applied between batches only, never after the last.
func (d *Dispatcher) runJob(ctx context.Context, adapter common.Adapter, jobID, campaignID string, req *models.SendRequest, batches [][]string, delay time.Duration) {
	log := d.logger.With().
		Str("component", "batch_worker").
		Str("job_id", jobID).
		Str("channel", req.Channel.String()).
		Logger()

	totalSent, totalFailed := 0, 0

	defer func() {
		if r := recover(); r != nil {
			// The unattempted remainder counts as failed so the terminal
			// totals still cover every recipient.
			failed := len(req.Recipients) - totalSent
			log.Error().
				Interface("panic", r).
				Int("sent", totalSent).
				Int("failed", failed).
				Msg("batch worker panicked")
			if campaignID != "" {
				// The job context may already be gone; the terminal status
				// must still land.
				d.campaigns.Close(context.Background(), campaignID, models.CampaignStatusFailed, totalSent, failed)
			}
		}
	}()

	for i, batch := range batches {
		sent, failed := d.sendBatch(ctx, adapter, batch, req, campaignID, jobID)
		totalSent += sent
		totalFailed += failed
		d.tracker.Advance(ctx, jobID, len(batch), i+1, sent, failed)

		log.Debug().
			Int("batch", i+1).
			Int("batches", len(batches)).
			Int("sent", sent).
			Int("failed", failed).
			Msg("batch resolved")

		if i < len(batches)-1 && delay > 0 {
			d.wait(ctx, delay)
		}
	}

	d.tracker.Complete(ctx, jobID)

	if campaignID != "" {
		status := models.CampaignStatusFailed
		if totalSent > 0 {
			status = models.CampaignStatusCompleted
		}
		d.campaigns.Close(ctx, campaignID, status, totalSent, totalFailed)
		d.publishCampaignClosed(ctx, models.CampaignClosed{
			CampaignID:  campaignID,
			Channel:     req.Channel,
			Status:      status,
			TotalSent:   totalSent,
			TotalFailed: totalFailed,
			CompletedAt: d.now(),
		})
	}

	log.Info().
		Int("sent", totalSent).
		Int("failed", totalFailed).
		Msg("job complete")
}

// sendBatch attempts every recipient in the batch with bounded concurrency.
// Each outcome lands in its own result slot, so no shared accumulator is
// mutated concurrently; the fold happens after all attempts resolve.
func (d *Dispatcher) sendBatch(ctx context.Context, adapter common.Adapter, batch []string, req *models.SendRequest, campaignID, jobID string) (sent, failed int) {
	results := make([]*models.Message, len(batch))

	var wg sync.WaitGroup
	for i, recipient := range batch {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			results[i] = d.recordFailure(ctx, recipient, req, campaignID, jobID, err)
			continue
		}
		wg.Add(1)
		go func(i int, recipient string) {
			defer wg.Done()
			defer d.sem.Release(1)
			results[i] = d.attempt(ctx, adapter, recipient, req, campaignID, jobID)
		}(i, recipient)
	}
	wg.Wait()

	for _, msg := range results {
		if msg != nil && msg.Status == models.MessageStatusSent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

// attempt performs one recipient's delivery and writes the ledger row. A
// ledger write failure is logged but never aborts the batch loop.
func (d *Dispatcher) attempt(ctx context.Context, adapter common.Adapter, recipient string, req *models.SendRequest, campaignID, jobID string) *models.Message {
	outcome, err := safeSend(ctx, adapter, recipient, req)

	now := d.now()
	msg := &models.Message{
		ID:         uuid.NewString(),
		Channel:    req.Channel,
		Recipient:  recipient,
		Subject:    req.Subject,
		Body:       req.Body,
		CampaignID: campaignID,
		Bulk:       req.IsBulk,
		OwnerID:    req.OwnerID,
	}

	if err != nil {
		msg.Status = models.MessageStatusFailed
		msg.FailedAt = &now
		msg.ErrorMessage = err.Error()
	} else {
		msg.Status = models.MessageStatusSent
		msg.SentAt = &now
		if outcome != nil {
			msg.ProviderID = outcome.ProviderID
			msg.Cost = outcome.Cost
		}
	}

	if err := d.store.AppendMessage(ctx, msg); err != nil {
		d.logger.Error().
			Str("recipient", recipient).
			Str("message_id", msg.ID).
			Err(common.WrapPersistence(err)).
			Msg("ledger write failed")
	}

	d.publishReceipt(ctx, msg, jobID)
	return msg
}

func (d *Dispatcher) recordFailure(ctx context.Context, recipient string, req *models.SendRequest, campaignID, jobID string, cause error) *models.Message {
	now := d.now()
	msg := &models.Message{
		ID:           uuid.NewString(),
		Channel:      req.Channel,
		Recipient:    recipient,
		Subject:      req.Subject,
		Body:         req.Body,
		Status:       models.MessageStatusFailed,
		FailedAt:     &now,
		ErrorMessage: cause.Error(),
		CampaignID:   campaignID,
		Bulk:         req.IsBulk,
		OwnerID:      req.OwnerID,
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		d.logger.Error().
			Str("recipient", recipient).
			Err(common.WrapPersistence(err)).
			Msg("ledger write failed")
	}
	d.publishReceipt(ctx, msg, jobID)
	return msg
}

// safeSend shields the batch loop from adapter panics: a panicking adapter
// resolves as a provider failure for that recipient only.
func safeSend(ctx context.Context, adapter common.Adapter, recipient string, req *models.SendRequest) (outcome *common.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = common.WrapProvider(fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return adapter.Send(ctx, recipient, req)
}

// wait sleeps for the inter-batch delay, waking early if the context ends.
func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
