package models

// Attachment references a document to include with an email. The bytes are
// fetched from the URL at send time; SMS requests must not carry attachments.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// SendRequest describes one dispatch request for a list of recipients. The
// recipient order is preserved all the way through batch planning.
type SendRequest struct {
	Channel     Channel      `json:"channel"`
	Recipients  []string     `json:"recipients"`
	Subject     string       `json:"subject,omitempty"`
	Body        string       `json:"body"`
	IsBulk      bool         `json:"is_bulk,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Optional campaign label applied when the bulk path opens a campaign.
	CampaignName        string `json:"campaign_name,omitempty"`
	CampaignDescription string `json:"campaign_description,omitempty"`

	OwnerID string `json:"owner_id,omitempty"`
}

// RecipientResult reports the outcome of a single synchronous attempt.
type RecipientResult struct {
	Recipient  string `json:"recipient"`
	Status     string `json:"status"`
	ProviderID string `json:"provider_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DispatchResult is returned by the dispatch router. Exactly one of the two
// shapes is populated depending on the path taken.
type DispatchResult struct {
	Queued bool `json:"queued"`

	// Queued path.
	JobID           string `json:"job_id,omitempty"`
	TotalRecipients int    `json:"total_recipients,omitempty"`
	TotalBatches    int    `json:"total_batches,omitempty"`
	CampaignID      string `json:"campaign_id,omitempty"`

	// Synchronous path.
	TotalSent   int               `json:"total_sent"`
	TotalFailed int               `json:"total_failed"`
	Results     []RecipientResult `json:"results,omitempty"`
}

// JobProgress is the pollable view of a queued job.
type JobProgress struct {
	JobID        string  `json:"job_id"`
	Channel      Channel `json:"channel"`
	Processed    int     `json:"processed"`
	Total        int     `json:"total"`
	CurrentBatch int     `json:"current_batch"`
	TotalBatches int     `json:"total_batches"`
	TotalSent    int     `json:"total_sent"`
	TotalFailed  int     `json:"total_failed"`
	Status       string  `json:"status"`
}
