package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-dispatch/internal/settings"
)

// Settings keys consumed by the gateway provider.
const (
	keyUsername = "sms.username"
	keyPassword = "sms.password"
	keySenderID = "sms.sender_id"
	keyEndpoint = "sms.endpoint"
)

const (
	defaultEndpoint  = "https://sms-gateway.local/api/v1/send"
	maxResponseBytes = 64 << 10
)

// gatewayResult is the JSON body the aggregator returns for a submission.
type gatewayResult struct {
	Code    int    `json:"code"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// GatewayOption configures the HTTP gateway provider.
type GatewayOption func(*GatewayProvider)

// WithHTTPClient swaps the HTTP client used for gateway calls.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(p *GatewayProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithClock replaces the clock used for response timestamps.
func WithClock(now func() time.Time) GatewayOption {
	return func(p *GatewayProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// GatewayProvider submits messages to an HTTP SMS aggregator as form-encoded
// POST requests and parses the JSON result.
type GatewayProvider struct {
	logger   zerolog.Logger
	settings settings.Resolver
	client   *http.Client
	now      func() time.Time
}

// NewGatewayProvider constructs a Provider backed by the HTTP gateway.
func NewGatewayProvider(resolver settings.Resolver, logger zerolog.Logger, opts ...GatewayOption) (*GatewayProvider, error) {
	if resolver == nil {
		return nil, errors.New("sms provider: settings resolver is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &GatewayProvider{
		logger:   logger,
		settings: resolver,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

type gatewayConfig struct {
	username string
	password string
	senderID string
	endpoint string
}

// CheckConfig resolves the gateway settings and reports ErrMissingConfig when
// any required credential is absent.
func (p *GatewayProvider) CheckConfig() error {
	_, err := p.resolveConfig()
	return err
}

func (p *GatewayProvider) resolveConfig() (*gatewayConfig, error) {
	cfg := &gatewayConfig{
		username: strings.TrimSpace(p.settings.Get(keyUsername, "")),
		password: p.settings.Get(keyPassword, ""),
		senderID: strings.TrimSpace(p.settings.Get(keySenderID, "")),
		endpoint: strings.TrimSpace(p.settings.Get(keyEndpoint, defaultEndpoint)),
	}

	var missing []string
	if cfg.username == "" {
		missing = append(missing, keyUsername)
	}
	if cfg.password == "" {
		missing = append(missing, keyPassword)
	}
	if cfg.senderID == "" {
		missing = append(missing, keySenderID)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// Send posts the payload to the gateway and normalizes the JSON result. A
// result code of zero means the gateway accepted the message; any other code,
// or a response that does not parse as JSON, is a failure carrying the raw
// gateway message.
func (p *GatewayProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("sms provider: payload is required")
	}
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("sms provider: recipient is required")
	}

	cfg, err := p.resolveConfig()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("username", cfg.username)
	form.Set("password", cfg.password)
	form.Set("destination", payload.To)
	form.Set("source", cfg.senderID)
	form.Set("message", payload.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("sms provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms provider: gateway call: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("sms provider: read response: %w", err)
	}

	resp := &RawResponse{
		Body:      string(body),
		Timestamp: p.now(),
	}

	var result gatewayResult
	if err := json.Unmarshal(body, &result); err != nil {
		resp.Code = -1
		resp.Message = strings.TrimSpace(string(body))
		return resp, fmt.Errorf("sms provider: non-json gateway response (http %d): %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	resp.ID = result.ID
	resp.Code = result.Code
	resp.Message = result.Message

	if result.Code != 0 {
		return resp, fmt.Errorf("sms provider: gateway code %d: %s", result.Code, result.Message)
	}

	p.logger.Debug().
		Str("message_id", payload.MessageID).
		Str("provider_id", result.ID).
		Msg("sms gateway accepted message")

	return resp, nil
}
