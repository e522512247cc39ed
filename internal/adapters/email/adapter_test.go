package email

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/models"
	emailprovider "github.com/example/notification-dispatch/internal/providers/email"
)

// stubProvider records the payload it was handed and returns a canned result.
type stubProvider struct {
	mu        sync.Mutex
	payloads  []*emailprovider.Payload
	sendErr   error
	configErr error
}

func (p *stubProvider) CheckConfig() error { return p.configErr }

func (p *stubProvider) Send(_ context.Context, payload *emailprovider.Payload) (*emailprovider.RawResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	return &emailprovider.RawResponse{ID: "smtp-1", Code: 250, Body: "250 2.0.0 OK"}, nil
}

func (p *stubProvider) last(t *testing.T) *emailprovider.Payload {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.payloads) == 0 {
		t.Fatal("provider was never called")
	}
	return p.payloads[len(p.payloads)-1]
}

func newStubAdapter(t *testing.T, provider *stubProvider, opts ...Option) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(provider, zerolog.New(io.Discard), opts...)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return adapter
}

func TestSendRendersBothBodies(t *testing.T) {
	provider := &stubProvider{}
	adapter := newStubAdapter(t, provider)

	req := &models.SendRequest{
		Channel: models.ChannelEmail,
		Subject: "welcome",
		Body:    "Hello there.\n\nGlad to have you.",
	}
	outcome, err := adapter.Send(context.Background(), "User@Example.COM", req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if outcome.ProviderID != "smtp-1" {
		t.Fatalf("ProviderID = %q, want smtp-1", outcome.ProviderID)
	}

	payload := provider.last(t)
	if len(payload.To) != 1 || payload.To[0] != "user@example.com" {
		t.Fatalf("To = %v, want normalized lowercase address", payload.To)
	}
	if !strings.Contains(payload.HTMLBody, "<p>Hello there.</p>") {
		t.Fatalf("HTML body missing paragraph markup:\n%s", payload.HTMLBody)
	}
	if !strings.Contains(payload.HTMLBody, "<p>Glad to have you.</p>") {
		t.Fatalf("HTML body missing second paragraph:\n%s", payload.HTMLBody)
	}
	if strings.Contains(payload.TextBody, "<p>") {
		t.Fatalf("text body contains markup: %q", payload.TextBody)
	}
}

func TestSendAssignsMessageID(t *testing.T) {
	provider := &stubProvider{}
	adapter := newStubAdapter(t, provider)

	req := &models.SendRequest{Channel: models.ChannelEmail, Body: "hi"}
	if _, err := adapter.Send(context.Background(), "a@example.com", req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := adapter.Send(context.Background(), "b@example.com", req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.payloads) != 2 {
		t.Fatalf("payloads = %d, want 2", len(provider.payloads))
	}
	first, second := provider.payloads[0].MessageID, provider.payloads[1].MessageID
	if first == "" || second == "" {
		t.Fatal("payload missing message id")
	}
	if first == second {
		t.Fatalf("message ids must be unique per send, got %q twice", first)
	}
}

func TestSendPassesThroughExistingHTML(t *testing.T) {
	provider := &stubProvider{}
	adapter := newStubAdapter(t, provider)

	req := &models.SendRequest{
		Channel: models.ChannelEmail,
		Body:    `<h1>Big News</h1><p>Details inside.</p>`,
	}
	if _, err := adapter.Send(context.Background(), "a@example.com", req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	payload := provider.last(t)
	if !strings.Contains(payload.HTMLBody, "<h1>Big News</h1>") {
		t.Fatalf("HTML content was not passed through:\n%s", payload.HTMLBody)
	}
	if payload.TextBody != "Big NewsDetails inside." {
		t.Fatalf("TextBody = %q", payload.TextBody)
	}
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	adapter := newStubAdapter(t, &stubProvider{})

	req := &models.SendRequest{Channel: models.ChannelEmail, Body: "hi"}
	_, err := adapter.Send(context.Background(), "not-an-address", req)
	if !errors.Is(err, common.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
}

func TestSendFetchesAttachments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer server.Close()

	provider := &stubProvider{}
	adapter := newStubAdapter(t, provider)

	req := &models.SendRequest{
		Channel: models.ChannelEmail,
		Body:    "see attached",
		Attachments: []models.Attachment{
			{Filename: "invoice.pdf", URL: server.URL + "/invoice.pdf"},
		},
	}
	if _, err := adapter.Send(context.Background(), "a@example.com", req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	payload := provider.last(t)
	if len(payload.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Filename != "invoice.pdf" {
		t.Fatalf("Filename = %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Fatalf("ContentType = %q", att.ContentType)
	}
	if string(att.Content) != "%PDF-1.4 fake" {
		t.Fatalf("Content = %q", att.Content)
	}
}

func TestSendSkipsUnfetchableAttachment(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer broken.Close()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("report data"))
	}))
	defer ok.Close()

	provider := &stubProvider{}
	adapter := newStubAdapter(t, provider)

	req := &models.SendRequest{
		Channel: models.ChannelEmail,
		Body:    "see attached",
		Attachments: []models.Attachment{
			{Filename: "gone.pdf", URL: broken.URL + "/gone.pdf"},
			{Filename: "report.csv", URL: ok.URL + "/report.csv"},
		},
	}
	if _, err := adapter.Send(context.Background(), "a@example.com", req); err != nil {
		t.Fatalf("send must survive a failed attachment fetch: %v", err)
	}

	payload := provider.last(t)
	if len(payload.Attachments) != 1 {
		t.Fatalf("attachments = %d, want only the fetchable one", len(payload.Attachments))
	}
	if payload.Attachments[0].Filename != "report.csv" {
		t.Fatalf("kept attachment = %q, want report.csv", payload.Attachments[0].Filename)
	}
}

func TestSendMapsMissingConfig(t *testing.T) {
	provider := &stubProvider{sendErr: emailprovider.ErrMissingConfig}
	adapter := newStubAdapter(t, provider)

	req := &models.SendRequest{Channel: models.ChannelEmail, Body: "hi"}
	_, err := adapter.Send(context.Background(), "a@example.com", req)
	if !errors.Is(err, common.ErrConfigMissing) {
		t.Fatalf("err = %v, want ErrConfigMissing", err)
	}
}

func TestSendMapsProviderFailure(t *testing.T) {
	provider := &stubProvider{sendErr: errors.New("smtp: 550 mailbox unavailable")}
	adapter := newStubAdapter(t, provider)

	req := &models.SendRequest{Channel: models.ChannelEmail, Body: "hi"}
	_, err := adapter.Send(context.Background(), "a@example.com", req)
	if !errors.Is(err, common.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
}

func TestCheckConfigWrapsProviderError(t *testing.T) {
	provider := &stubProvider{configErr: emailprovider.ErrMissingConfig}
	adapter := newStubAdapter(t, provider)

	if err := adapter.CheckConfig(); !errors.Is(err, common.ErrConfigMissing) {
		t.Fatalf("err = %v, want ErrConfigMissing", err)
	}
}
