package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/models"
	"github.com/example/notification-dispatch/internal/settings"
	"github.com/example/notification-dispatch/internal/store"
	"github.com/example/notification-dispatch/internal/util"
)

// Channel tunable defaults, overridable through the settings resolver.
const (
	defaultEmailBatchSize = 50
	defaultEmailDelay     = 2 * time.Second
	defaultSMSBatchSize   = 100
	defaultSMSDelay       = time.Second
	defaultConcurrency    = 4

	maxSMSBodyRunes = 160
)

// ReceiptPublisher emits delivery receipts and campaign-closed events for
// downstream consumers. Implementations must be safe for concurrent use; a
// nil publisher disables emission.
type ReceiptPublisher interface {
	PublishReceipt(ctx context.Context, receipt models.DeliveryReceipt) error
	PublishCampaignClosed(ctx context.Context, event models.CampaignClosed) error
}

// Option customises the dispatcher during construction.
type Option func(*Dispatcher)

// WithReceiptPublisher attaches an event publisher for resolved attempts.
func WithReceiptPublisher(p ReceiptPublisher) Option {
	return func(d *Dispatcher) {
		d.receipts = p
	}
}

// WithClock replaces the clock used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher is the single entry point of the dispatch engine. It validates
// requests, decides between the synchronous and queued paths, and owns the
// background batch workers spawned for queued sends.
type Dispatcher struct {
	store     *store.Store
	settings  settings.Resolver
	adapters  map[models.Channel]common.Adapter
	tracker   *JobTracker
	campaigns *Campaigns
	receipts  ReceiptPublisher
	logger    zerolog.Logger
	now       func() time.Time
	sem       *semaphore.Weighted
}

// New constructs a Dispatcher from its collaborators. At least one channel
// adapter is required.
func New(st *store.Store, resolver settings.Resolver, adapters []common.Adapter, logger zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	if st == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if resolver == nil {
		return nil, errors.New("dispatch: settings resolver is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("dispatch: at least one channel adapter is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	byChannel := make(map[models.Channel]common.Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return nil, errors.New("dispatch: nil adapter supplied")
		}
		if _, dup := byChannel[a.Channel()]; dup {
			return nil, fmt.Errorf("dispatch: duplicate adapter for channel %s", a.Channel())
		}
		byChannel[a.Channel()] = a
	}

	tracker, err := NewJobTracker(st, logger)
	if err != nil {
		return nil, err
	}
	campaigns, err := NewCampaigns(st, logger)
	if err != nil {
		return nil, err
	}

	concurrency := settings.Int(resolver, "worker.concurrency", defaultConcurrency)
	if concurrency < 1 {
		concurrency = 1
	}

	d := &Dispatcher{
		store:     st,
		settings:  resolver,
		adapters:  byChannel,
		tracker:   tracker,
		campaigns: campaigns,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		now:       time.Now,
		sem:       semaphore.NewWeighted(int64(concurrency)),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d, nil
}

type channelTunables struct {
	batchSize int
	delay     time.Duration
	enabled   bool
}

func (d *Dispatcher) tunables(channel models.Channel) channelTunables {
	defBatch, defDelay := defaultEmailBatchSize, defaultEmailDelay
	if channel == models.ChannelSMS {
		defBatch, defDelay = defaultSMSBatchSize, defaultSMSDelay
	}
	prefix := channel.String()
	t := channelTunables{
		batchSize: settings.Int(d.settings, prefix+".batch_size", defBatch),
		delay:     settings.Millis(d.settings, prefix+".batch_delay_ms", defDelay),
		enabled:   settings.Bool(d.settings, prefix+".enabled", true),
	}
	if t.batchSize < 1 {
		t.batchSize = 1
	}
	return t
}

// Dispatch validates the request, then either delivers synchronously or
// queues a background job. Validation and configuration failures reject the
// whole request before any side effect.
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.SendRequest) (*models.DispatchResult, error) {
	adapter, err := d.validate(req)
	if err != nil {
		return nil, err
	}
	if err := adapter.CheckConfig(); err != nil {
		return nil, err
	}

	t := d.tunables(req.Channel)
	if t.enabled && (req.IsBulk || len(req.Recipients) >= t.batchSize) {
		return d.dispatchQueued(ctx, adapter, req, t)
	}
	return d.dispatchSync(ctx, adapter, req)
}

func (d *Dispatcher) validate(req *models.SendRequest) (common.Adapter, error) {
	if req == nil {
		return nil, common.WrapValidation(errors.New("request is required"))
	}
	if len(req.Recipients) == 0 {
		return nil, common.WrapValidation(errors.New("recipient list is empty"))
	}

	adapter, ok := d.adapters[req.Channel]
	if !ok {
		return nil, common.WrapValidation(fmt.Errorf("unsupported channel %q", req.Channel))
	}

	if req.Channel == models.ChannelSMS {
		if err := util.EnsureMaxRunes("sms body", req.Body, maxSMSBodyRunes); err != nil {
			return nil, common.WrapValidation(err)
		}
		if len(req.Attachments) > 0 {
			return nil, common.WrapValidation(errors.New("attachments are not supported for sms"))
		}
	}

	return adapter, nil
}

// dispatchSync attempts every recipient within the caller's request and
// returns only after all ledger writes for the request exist.
func (d *Dispatcher) dispatchSync(ctx context.Context, adapter common.Adapter, req *models.SendRequest) (*models.DispatchResult, error) {
	result := &models.DispatchResult{
		Results: make([]models.RecipientResult, 0, len(req.Recipients)),
	}

	for _, recipient := range req.Recipients {
		msg := d.attempt(ctx, adapter, recipient, req, "", "")
		rr := models.RecipientResult{
			Recipient:  recipient,
			Status:     msg.Status,
			ProviderID: msg.ProviderID,
			Error:      msg.ErrorMessage,
		}
		if msg.Status == models.MessageStatusSent {
			result.TotalSent++
		} else {
			result.TotalFailed++
		}
		result.Results = append(result.Results, rr)
	}

	d.logger.Info().
		Str("channel", req.Channel.String()).
		Int("sent", result.TotalSent).
		Int("failed", result.TotalFailed).
		Msg("synchronous send resolved")

	return result, nil
}

// dispatchQueued records the campaign and job, spawns the batch worker and
// returns immediately with the job id.
func (d *Dispatcher) dispatchQueued(ctx context.Context, adapter common.Adapter, req *models.SendRequest, t channelTunables) (*models.DispatchResult, error) {
	batches := PlanBatches(req.Recipients, t.batchSize)

	campaignID := ""
	if req.IsBulk && len(req.Recipients) > 1 {
		id, err := d.campaigns.Open(ctx, req)
		if err != nil {
			// Best-effort: the send proceeds without a campaign summary.
			d.logger.Error().Err(err).Msg("failed to open campaign")
		} else {
			campaignID = id
		}
	}

	jobID, err := d.tracker.Create(ctx, req.Channel, len(req.Recipients), len(batches), t.batchSize, t.delay)
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("channel", req.Channel.String()).
		Str("job_id", jobID).
		Str("campaign_id", campaignID).
		Int("recipients", len(req.Recipients)).
		Int("batches", len(batches)).
		Msg("queued bulk send")

	// The worker outlives the originating request, so it runs on its own
	// context rather than the caller's.
	go d.runJob(context.Background(), adapter, jobID, campaignID, req, batches, t.delay)

	return &models.DispatchResult{
		Queued:          true,
		JobID:           jobID,
		CampaignID:      campaignID,
		TotalRecipients: len(req.Recipients),
		TotalBatches:    len(batches),
	}, nil
}

// JobProgress exposes the tracker's pollable view.
func (d *Dispatcher) JobProgress(ctx context.Context, jobID string, channel models.Channel) (*models.JobProgress, error) {
	return d.tracker.Progress(ctx, jobID, channel)
}

func (d *Dispatcher) publishReceipt(ctx context.Context, msg *models.Message, jobID string) {
	if d.receipts == nil {
		return
	}
	receipt := models.DeliveryReceipt{
		MessageID:  msg.ID,
		Channel:    msg.Channel,
		Recipient:  msg.Recipient,
		Status:     msg.Status,
		ProviderID: msg.ProviderID,
		Cost:       msg.Cost,
		Error:      msg.ErrorMessage,
		CampaignID: msg.CampaignID,
		JobID:      jobID,
		OwnerID:    msg.OwnerID,
		Timestamp:  d.now(),
	}
	if err := d.receipts.PublishReceipt(ctx, receipt); err != nil {
		d.logger.Error().
			Str("message_id", msg.ID).
			Err(err).
			Msg("failed to publish delivery receipt")
	}
}

func (d *Dispatcher) publishCampaignClosed(ctx context.Context, event models.CampaignClosed) {
	if d.receipts == nil {
		return
	}
	if err := d.receipts.PublishCampaignClosed(ctx, event); err != nil {
		d.logger.Error().
			Str("campaign_id", event.CampaignID).
			Err(err).
			Msg("failed to publish campaign close event")
	}
}
