// Package store persists the delivery ledger, campaign summaries and job
// progress in SQLite. Messages are append-only; campaigns and jobs have a
// single writer (the batch worker) once created.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/example/notification-dispatch/internal/models"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Config controls how the SQLite database is opened.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if necessary) the database at cfg.Path and applies the
// embedded migrations. Use ":memory:" for an ephemeral database.
func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: path is required")
	}
	if reflect.ValueOf(log).IsZero() {
		log = zerolog.Nop()
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendMessage writes one resolved delivery attempt to the ledger.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	if m == nil {
		return errors.New("store: message is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, channel, recipient, subject, body, status, sent_at, failed_at, error_message, provider_id, cost, campaign_id, bulk, owner_id)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, string(m.Channel), m.Recipient, nullStr(m.Subject), m.Body, m.Status,
		nullTime(m.SentAt), nullTime(m.FailedAt), nullStr(m.ErrorMessage),
		nullStr(m.ProviderID), m.Cost, nullStr(m.CampaignID), boolInt(m.Bulk), nullStr(m.OwnerID),
	)
	return err
}

// CountMessages reports the total number of ledger rows.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// MessagesByCampaign returns the ledger rows belonging to one campaign in
// insertion order.
func (s *Store) MessagesByCampaign(ctx context.Context, campaignID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, recipient, subject, body, status, sent_at, failed_at, error_message, provider_id, cost, campaign_id, bulk, owner_id
		 FROM messages WHERE campaign_id = ? ORDER BY rowid`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns up to limit ledger rows, newest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, recipient, subject, body, status, sent_at, failed_at, error_message, provider_id, cost, campaign_id, bulk, owner_id
		 FROM messages ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var (
			m                       models.Message
			channel                 string
			subject, errMsg, provID sql.NullString
			campaignID, ownerID     sql.NullString
			sentAt, failedAt        sql.NullString
			bulk                    int
		)
		if err := rows.Scan(&m.ID, &channel, &m.Recipient, &subject, &m.Body, &m.Status,
			&sentAt, &failedAt, &errMsg, &provID, &m.Cost, &campaignID, &bulk, &ownerID); err != nil {
			return nil, err
		}
		m.Channel = models.Channel(channel)
		m.Subject = subject.String
		m.ErrorMessage = errMsg.String
		m.ProviderID = provID.String
		m.CampaignID = campaignID.String
		m.OwnerID = ownerID.String
		m.Bulk = bulk != 0
		m.SentAt = parseTimePtr(sentAt)
		m.FailedAt = parseTimePtr(failedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateCampaign inserts a campaign summary row in SENDING state.
func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if c == nil {
		return errors.New("store: campaign is required")
	}
	recipients, err := json.Marshal(c.Recipients)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns(id, name, description, channel, recipients, subject, body, status, total_sent, total_failed, started_at, completed_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, nullStr(c.Description), string(c.Channel), string(recipients),
		nullStr(c.Subject), c.Body, c.Status, c.TotalSent, c.TotalFailed,
		c.StartedAt.Format(time.RFC3339Nano), nullTime(c.CompletedAt),
	)
	return err
}

// CloseCampaign transitions a campaign to a terminal status with its final
// totals. It is called exactly once per campaign.
func (s *Store) CloseCampaign(ctx context.Context, id, status string, totalSent, totalFailed int, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, total_sent = ?, total_failed = ?, completed_at = ? WHERE id = ?`,
		status, totalSent, totalFailed, completedAt.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCampaign fetches one campaign summary.
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var (
		c                    models.Campaign
		channel, recipients  string
		description, subject sql.NullString
		startedAt            string
		completedAt          sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, channel, recipients, subject, body, status, total_sent, total_failed, started_at, completed_at
		 FROM campaigns WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &description, &channel, &recipients, &subject, &c.Body, &c.Status,
			&c.TotalSent, &c.TotalFailed, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Channel = models.Channel(channel)
	c.Description = description.String
	c.Subject = subject.String
	if err := json.Unmarshal([]byte(recipients), &c.Recipients); err != nil {
		return nil, fmt.Errorf("store: decode campaign recipients: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		c.StartedAt = ts
	}
	if completedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			c.CompletedAt = &ts
		}
	}
	return &c, nil
}

// CreateJob inserts a job row in QUEUED state.
func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	if j == nil {
		return errors.New("store: job is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, channel, total_recipients, total_batches, batch_size, delay_ms, processed_count, current_batch, total_sent, total_failed, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.JobID, string(j.Channel), j.TotalRecipients, j.TotalBatches, j.BatchSize,
		j.Delay.Milliseconds(), j.ProcessedCount, j.CurrentBatch, j.TotalSent, j.TotalFailed,
		j.Status, j.CreatedAt.Format(time.RFC3339Nano), j.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// AdvanceJob applies one batch worth of progress: the processed counter grows
// by processedDelta and the job moves to PROCESSING if it was still QUEUED.
func (s *Store) AdvanceJob(ctx context.Context, jobID string, processedDelta, batchIndex, sentDelta, failedDelta int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET processed_count = processed_count + ?, current_batch = ?,
		        total_sent = total_sent + ?, total_failed = total_failed + ?,
		        status = ?, updated_at = ?
		 WHERE job_id = ?`,
		processedDelta, batchIndex, sentDelta, failedDelta,
		models.JobStatusProcessing, at.Format(time.RFC3339Nano), jobID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob transitions a job to COMPLETE.
func (s *Store) CompleteJob(ctx context.Context, jobID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`,
		models.JobStatusComplete, at.Format(time.RFC3339Nano), jobID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob fetches a job by id and channel. The channel is part of the lookup
// so pollers cannot read another channel's job by id alone.
func (s *Store) GetJob(ctx context.Context, jobID string, channel models.Channel) (*models.Job, error) {
	var (
		j                    models.Job
		ch                   string
		delayMS              int64
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, channel, total_recipients, total_batches, batch_size, delay_ms, processed_count, current_batch, total_sent, total_failed, status, created_at, updated_at
		 FROM jobs WHERE job_id = ? AND channel = ?`, jobID, string(channel)).
		Scan(&j.JobID, &ch, &j.TotalRecipients, &j.TotalBatches, &j.BatchSize, &delayMS,
			&j.ProcessedCount, &j.CurrentBatch, &j.TotalSent, &j.TotalFailed, &j.Status,
			&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Channel = models.Channel(ch)
	j.Delay = time.Duration(delayMS) * time.Millisecond
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		j.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		j.UpdatedAt = ts
	}
	return &j, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &ts
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
