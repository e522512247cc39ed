package models

import "time"

// Message is one row of the delivery ledger: a single resolved attempt for a
// single recipient. Rows are append-only; a retried recipient produces a new
// row rather than mutating the old one.
type Message struct {
	ID           string     `json:"id"`
	Channel      Channel    `json:"channel"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject,omitempty"`
	Body         string     `json:"body"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ProviderID   string     `json:"provider_id,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
	CampaignID   string     `json:"campaign_id,omitempty"`
	Bulk         bool       `json:"bulk"`
	OwnerID      string     `json:"owner_id,omitempty"`
}
