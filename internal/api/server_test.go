package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/dispatch"
	"github.com/example/notification-dispatch/internal/models"
	"github.com/example/notification-dispatch/internal/store"
)

// stubEngine returns canned dispatch results keyed off the incoming request.
type stubEngine struct {
	dispatchResult *models.DispatchResult
	dispatchErr    error
	progress       *models.JobProgress
	progressErr    error

	lastRequest *models.SendRequest
}

func (e *stubEngine) Dispatch(_ context.Context, req *models.SendRequest) (*models.DispatchResult, error) {
	e.lastRequest = req
	if e.dispatchErr != nil {
		return nil, e.dispatchErr
	}
	return e.dispatchResult, nil
}

func (e *stubEngine) JobProgress(_ context.Context, jobID string, channel models.Channel) (*models.JobProgress, error) {
	if e.progressErr != nil {
		return nil, e.progressErr
	}
	return e.progress, nil
}

func newTestServer(t *testing.T, engine Engine) *Server {
	t.Helper()
	st, err := store.Open(store.Config{Path: ":memory:"}, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv, err := NewServer(engine, st, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDispatchSyncResponse(t *testing.T) {
	engine := &stubEngine{
		dispatchResult: &models.DispatchResult{
			TotalSent:   2,
			TotalFailed: 0,
			Results: []models.RecipientResult{
				{Recipient: "a@example.com", Status: models.MessageStatusSent},
				{Recipient: "b@example.com", Status: models.MessageStatusSent},
			},
		},
	}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/dispatch", map[string]any{
		"channel":    "email",
		"recipients": []string{"a@example.com", "b@example.com"},
		"subject":    "hi",
		"body":       "hello",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	if engine.lastRequest.Channel != models.ChannelEmail {
		t.Fatalf("channel = %q", engine.lastRequest.Channel)
	}

	var result models.DispatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.TotalSent != 2 {
		t.Fatalf("TotalSent = %d, want 2", result.TotalSent)
	}
}

func TestDispatchQueuedReturns202(t *testing.T) {
	engine := &stubEngine{
		dispatchResult: &models.DispatchResult{
			Queued:          true,
			JobID:           "job-1",
			TotalRecipients: 250,
			TotalBatches:    3,
		},
	}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/dispatch", map[string]any{
		"channel":    "sms",
		"recipients": []string{"254700000001"},
		"body":       "hi",
		"is_bulk":    true,
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", rec.Code, rec.Body)
	}

	var result models.DispatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.JobID != "job-1" {
		t.Fatalf("JobID = %q, want job-1", result.JobID)
	}
}

func TestDispatchErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", common.WrapValidation(errors.New("recipient list is empty")), http.StatusBadRequest},
		{"config missing", common.WrapConfigMissing(errors.New("email.host")), http.StatusUnprocessableEntity},
		{"provider", common.WrapProvider(errors.New("boom")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &stubEngine{dispatchErr: tc.err})
			rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/dispatch", map[string]any{
				"channel":    "email",
				"recipients": []string{"a@example.com"},
				"body":       "hi",
			})
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tc.wantStatus, rec.Body)
			}
		})
	}
}

func TestDispatchRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDispatchRejectsUnknownChannel(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})
	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/dispatch", map[string]any{
		"channel":    "fax",
		"recipients": []string{"555"},
		"body":       "hi",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body)
	}
}

func TestJobProgressEndpoint(t *testing.T) {
	engine := &stubEngine{
		progress: &models.JobProgress{
			JobID:        "job-1",
			Channel:      models.ChannelEmail,
			Processed:    100,
			Total:        250,
			CurrentBatch: 2,
			TotalBatches: 5,
			Status:       models.JobStatusProcessing,
		},
	}
	srv := newTestServer(t, engine)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/jobs/email/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}

	var progress models.JobProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if progress.Processed != 100 || progress.Status != models.JobStatusProcessing {
		t.Fatalf("unexpected progress: %+v", progress)
	}
}

func TestJobProgressNotFound(t *testing.T) {
	srv := newTestServer(t, &stubEngine{progressErr: dispatch.ErrJobNotFound})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/jobs/email/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobProgressRejectsBadChannel(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/jobs/fax/job-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetCampaignEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})

	campaign := &models.Campaign{
		ID:         "camp-1",
		Name:       "launch",
		Channel:    models.ChannelEmail,
		Recipients: []string{"a@example.com"},
		Body:       "hello",
		Status:     models.CampaignStatusSending,
		StartedAt:  time.Now().UTC(),
	}
	if err := srv.store.CreateCampaign(context.Background(), campaign); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/campaigns/camp-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv.Router(), http.MethodGet, "/v1/campaigns/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRecentMessagesLimitIsClamped(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})

	for i := 0; i < maxMessagesLimit+5; i++ {
		at := time.Now()
		msg := &models.Message{
			ID:        fmt.Sprintf("msg-%04d", i),
			Channel:   models.ChannelSMS,
			Recipient: "254700000001",
			Body:      "hi",
			Status:    models.MessageStatusSent,
			SentAt:    &at,
		}
		if err := srv.store.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/messages?limit=1000000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}

	var body struct {
		Data []models.Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Data) != maxMessagesLimit {
		t.Fatalf("rows = %d, want clamp at %d", len(body.Data), maxMessagesLimit)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
