package email

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scenario enumerates the mock behaviours supported by the email provider.
type Scenario string

const (
	ScenarioSuccess Scenario = "success"
	ScenarioFailure Scenario = "failure"
	ScenarioTimeout Scenario = "timeout"
)

// ScenarioHeader selects a per-payload scenario when present.
const ScenarioHeader = "X-Mock-Scenario"

// Option customises the mock provider.
type Option func(*MockProvider)

// WithScenario sets the default scenario used when a payload does not specify one.
func WithScenario(s Scenario) Option {
	return func(p *MockProvider) {
		p.defaultScenario = s
	}
}

// WithLatency configures the artificial latency injected before sending.
func WithLatency(d time.Duration) Option {
	return func(p *MockProvider) {
		if d < 0 {
			d = 0
		}
		p.latency = d
	}
}

// WithClock overrides the clock used to timestamp responses (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider is a deterministic email provider used for tests and local
// development.
type MockProvider struct {
	logger          zerolog.Logger
	defaultScenario Scenario
	latency         time.Duration
	now             func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockProvider constructs a mock email provider.
func NewMockProvider(logger zerolog.Logger, opts ...Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:          logger,
		defaultScenario: ScenarioSuccess,
		latency:         10 * time.Millisecond,
		now:             time.Now,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- predictable in tests.
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// CheckConfig always succeeds; the mock needs no credentials.
func (p *MockProvider) CheckConfig() error { return nil }

// Send simulates delivering an email payload according to the configured
// scenario.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("email mock: payload is required")
	}
	if len(payload.To) == 0 {
		return nil, errors.New("email mock: at least one recipient is required")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	scenario := p.defaultScenario
	if val, ok := payload.Headers[ScenarioHeader]; ok && strings.TrimSpace(val) != "" {
		scenario = Scenario(strings.ToLower(strings.TrimSpace(val)))
	}

	response := &RawResponse{
		ID:        p.generateID(payload.MessageID),
		Code:      250,
		Body:      "mock: message accepted",
		Timestamp: p.now(),
	}

	switch scenario {
	case ScenarioSuccess:
		return response, nil
	case ScenarioFailure:
		response.Code = 550
		response.Body = "mock: mailbox unavailable"
		return response, fmt.Errorf("email mock: smtp 550 mailbox unavailable")
	case ScenarioTimeout:
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return response, ctx.Err()
		case <-timer.C:
			return response, fmt.Errorf("email mock: timeout")
		}
	default:
		response.Body = "mock: unknown scenario"
		return response, fmt.Errorf("email mock: unknown scenario %s", scenario)
	}
}

func (p *MockProvider) generateID(suggested string) string {
	if strings.TrimSpace(suggested) != "" {
		return suggested
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("email-%d", p.rnd.Int63())
}
