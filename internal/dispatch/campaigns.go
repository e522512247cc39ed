package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/notification-dispatch/internal/models"
	"github.com/example/notification-dispatch/internal/store"
)

// Campaigns aggregates a bulk send into one summary record. Open is invoked
// only by the dispatch router, Close only by the batch worker.
type Campaigns struct {
	store  *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewCampaigns constructs the campaign aggregator.
func NewCampaigns(st *store.Store, logger zerolog.Logger) (*Campaigns, error) {
	if st == nil {
		return nil, errors.New("dispatch: campaign aggregator requires a store")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Campaigns{
		store:  st,
		logger: logger.With().Str("component", "campaigns").Logger(),
		now:    time.Now,
	}, nil
}

// Open records a new campaign in SENDING state and returns its id.
func (c *Campaigns) Open(ctx context.Context, req *models.SendRequest) (string, error) {
	name := req.CampaignName
	if name == "" {
		name = fmt.Sprintf("bulk %s send %s", req.Channel, c.now().UTC().Format("2006-01-02 15:04"))
	}

	campaign := &models.Campaign{
		ID:          uuid.NewString(),
		Name:        name,
		Description: req.CampaignDescription,
		Channel:     req.Channel,
		Recipients:  append([]string(nil), req.Recipients...),
		Subject:     req.Subject,
		Body:        req.Body,
		Status:      models.CampaignStatusSending,
		StartedAt:   c.now(),
	}
	if err := c.store.CreateCampaign(ctx, campaign); err != nil {
		return "", err
	}
	return campaign.ID, nil
}

// Close records the terminal status and final totals for a campaign.
// Persistence failures are logged and swallowed.
func (c *Campaigns) Close(ctx context.Context, campaignID, status string, totalSent, totalFailed int) {
	if err := c.store.CloseCampaign(ctx, campaignID, status, totalSent, totalFailed, c.now()); err != nil {
		c.logger.Error().
			Str("campaign_id", campaignID).
			Str("status", status).
			Err(err).
			Msg("failed to close campaign")
	}
}
