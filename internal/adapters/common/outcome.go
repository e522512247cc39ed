package common

import (
	"context"
	"unicode/utf8"

	"github.com/example/notification-dispatch/internal/models"
)

// DefaultRawBodyLimit caps how much of a provider response body is retained on
// an Outcome.
const DefaultRawBodyLimit = 1024

// Outcome is the normalized result of one successful delivery attempt.
// Failures are reported through the error return of Adapter.Send instead.
type Outcome struct {
	ProviderID string
	Cost       float64
	Raw        string
}

// Adapter performs exactly one recipient's delivery attempt for a channel.
// Implementations are stateless per call; configuration is resolved freshly
// through the injected settings resolver.
type Adapter interface {
	Channel() models.Channel

	// CheckConfig reports ErrConfigMissing when required credentials are
	// absent. The dispatch router calls it before any side effect.
	CheckConfig() error

	// Send delivers the request content to a single recipient and returns a
	// normalized outcome, or an error wrapped with ErrProvider (delivery
	// failure) or ErrConfigMissing.
	Send(ctx context.Context, recipient string, req *models.SendRequest) (*Outcome, error)
}

// TruncateRaw trims the supplied string to the specified rune limit. If limit
// is zero or negative it returns an empty string.
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:limit])
}
