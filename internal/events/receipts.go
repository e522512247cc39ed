package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/notification-dispatch/internal/models"
)

// Sender is the minimal producer surface the publisher needs. Satisfied by
// *Producer and by test doubles.
type Sender interface {
	PublishSync(topic string, key []byte, payload []byte) error
}

// ReceiptsPublisher serialises delivery receipts and campaign-closed events
// to JSON and hands them to a Kafka producer.
type ReceiptsPublisher struct {
	sender Sender
	topic  string
	logger zerolog.Logger
}

// NewReceiptsPublisher constructs a publisher for the given topic.
func NewReceiptsPublisher(sender Sender, topic string, logger zerolog.Logger) (*ReceiptsPublisher, error) {
	if sender == nil {
		return nil, errors.New("receipts publisher: sender is required")
	}
	if topic == "" {
		return nil, errors.New("receipts publisher: topic is required")
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "receipts_publisher").Logger()

	return &ReceiptsPublisher{
		sender: sender,
		topic:  topic,
		logger: logger,
	}, nil
}

// PublishReceipt emits a single resolved delivery attempt. Receipts are keyed
// by campaign so attempts from the same campaign land on the same partition.
func (p *ReceiptsPublisher) PublishReceipt(ctx context.Context, receipt models.DeliveryReceipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{Type: "delivery_receipt", Receipt: &receipt})
	if err != nil {
		return fmt.Errorf("receipts publisher: marshal receipt: %w", err)
	}

	key := receipt.CampaignID
	if key == "" {
		key = receipt.MessageID
	}

	if err := p.sender.PublishSync(p.topic, []byte(key), payload); err != nil {
		return fmt.Errorf("receipts publisher: publish receipt: %w", err)
	}

	p.logger.Debug().
		Str("message_id", receipt.MessageID).
		Str("status", receipt.Status).
		Msg("delivery receipt published")
	return nil
}

// PublishCampaignClosed emits a campaign terminal-status event.
func (p *ReceiptsPublisher) PublishCampaignClosed(ctx context.Context, event models.CampaignClosed) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{Type: "campaign_closed", Campaign: &event})
	if err != nil {
		return fmt.Errorf("receipts publisher: marshal campaign event: %w", err)
	}

	if err := p.sender.PublishSync(p.topic, []byte(event.CampaignID), payload); err != nil {
		return fmt.Errorf("receipts publisher: publish campaign event: %w", err)
	}

	p.logger.Debug().
		Str("campaign_id", event.CampaignID).
		Str("status", event.Status).
		Msg("campaign closed event published")
	return nil
}

type envelope struct {
	Type     string                  `json:"type"`
	Receipt  *models.DeliveryReceipt `json:"receipt,omitempty"`
	Campaign *models.CampaignClosed  `json:"campaign,omitempty"`
}
