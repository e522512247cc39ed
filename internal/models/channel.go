package models

import (
	"fmt"
	"strings"
)

// Channel identifies the delivery channel a request targets.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ParseChannel normalizes and validates a channel name.
func ParseChannel(value string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelSMS:
		return ChannelSMS, nil
	default:
		return "", fmt.Errorf("unknown channel %q", value)
	}
}

func (c Channel) String() string { return string(c) }

// Message statuses. A ledger row is written only once the attempt has
// resolved, so there is no pending status.
const (
	MessageStatusSent   = "SENT"
	MessageStatusFailed = "FAILED"
)

// Campaign statuses.
const (
	CampaignStatusSending   = "SENDING"
	CampaignStatusCompleted = "COMPLETED"
	CampaignStatusFailed    = "FAILED"
)

// Job statuses.
const (
	JobStatusQueued     = "QUEUED"
	JobStatusProcessing = "PROCESSING"
	JobStatusComplete   = "COMPLETE"
)
