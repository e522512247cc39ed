package dispatch

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/models"
	"github.com/example/notification-dispatch/internal/store"
)

// ErrJobNotFound is returned when a progress query references an unknown job
// id / channel pair.
var ErrJobNotFound = errors.New("dispatch: job not found")

// JobTracker allocates job identifiers and exposes pollable progress. State
// lives in the store's jobs table, so progress queries survive restarts and
// can come from a different caller than the one that started the job. The
// batch worker is the only writer for a given job.
type JobTracker struct {
	store  *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewJobTracker constructs a tracker backed by the supplied store.
func NewJobTracker(st *store.Store, logger zerolog.Logger) (*JobTracker, error) {
	if st == nil {
		return nil, errors.New("dispatch: job tracker requires a store")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &JobTracker{
		store:  st,
		logger: logger.With().Str("component", "job_tracker").Logger(),
		now:    time.Now,
	}, nil
}

// Create allocates a job id and records the job in QUEUED state.
func (t *JobTracker) Create(ctx context.Context, channel models.Channel, totalRecipients, totalBatches, batchSize int, delay time.Duration) (string, error) {
	now := t.now()
	job := &models.Job{
		JobID:           uuid.NewString(),
		Channel:         channel,
		TotalRecipients: totalRecipients,
		TotalBatches:    totalBatches,
		BatchSize:       batchSize,
		Delay:           delay,
		Status:          models.JobStatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return "", common.WrapPersistence(err)
	}
	return job.JobID, nil
}

// Advance applies one batch worth of progress. Persistence failures are
// logged and swallowed so the worker keeps going.
func (t *JobTracker) Advance(ctx context.Context, jobID string, processedDelta, batchIndex, sentDelta, failedDelta int) {
	if err := t.store.AdvanceJob(ctx, jobID, processedDelta, batchIndex, sentDelta, failedDelta, t.now()); err != nil {
		t.logger.Error().
			Str("job_id", jobID).
			Int("batch", batchIndex).
			Err(err).
			Msg("failed to persist job progress")
	}
}

// Complete marks the job COMPLETE. Persistence failures are logged.
func (t *JobTracker) Complete(ctx context.Context, jobID string) {
	if err := t.store.CompleteJob(ctx, jobID, t.now()); err != nil {
		t.logger.Error().
			Str("job_id", jobID).
			Err(err).
			Msg("failed to mark job complete")
	}
}

// Progress returns the pollable view of a job.
func (t *JobTracker) Progress(ctx context.Context, jobID string, channel models.Channel) (*models.JobProgress, error) {
	job, err := t.store.GetJob(ctx, jobID, channel)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, common.WrapPersistence(err)
	}
	return &models.JobProgress{
		JobID:        job.JobID,
		Channel:      job.Channel,
		Processed:    job.ProcessedCount,
		Total:        job.TotalRecipients,
		CurrentBatch: job.CurrentBatch,
		TotalBatches: job.TotalBatches,
		TotalSent:    job.TotalSent,
		TotalFailed:  job.TotalFailed,
		Status:       job.Status,
	}, nil
}
