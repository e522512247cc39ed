package models

import "time"

// DeliveryReceipt is the event emitted for every resolved delivery attempt
// when a receipts publisher is configured. It mirrors the ledger row so
// downstream reporting can consume outcomes without polling the store.
type DeliveryReceipt struct {
	MessageID  string    `json:"message_id"`
	Channel    Channel   `json:"channel"`
	Recipient  string    `json:"recipient"`
	Status     string    `json:"status"`
	ProviderID string    `json:"provider_id,omitempty"`
	Cost       float64   `json:"cost,omitempty"`
	Error      string    `json:"error,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CampaignClosed announces that a bulk campaign reached a terminal status.
type CampaignClosed struct {
	CampaignID  string    `json:"campaign_id"`
	Channel     Channel   `json:"channel"`
	Status      string    `json:"status"`
	TotalSent   int       `json:"total_sent"`
	TotalFailed int       `json:"total_failed"`
	CompletedAt time.Time `json:"completed_at"`
}
