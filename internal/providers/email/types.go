package email

import (
	"context"
	"errors"
	"time"
)

// ErrMissingConfig is returned when required SMTP settings are absent. A
// partial credential set is treated the same as a fully missing one.
var ErrMissingConfig = errors.New("email provider: missing configuration")

// Attachment carries fetched attachment bytes ready for MIME encoding.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Payload is the canonical representation of one outbound email passed to the
// provider. Adapters normalize their inputs to this structure.
type Payload struct {
	MessageID   string
	To          []string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
	Headers     map[string]string
}

// RawResponse mirrors the low level provider response that adapters inspect
// to derive normalized outcomes.
type RawResponse struct {
	ID        string
	Code      int
	Body      string
	Timestamp time.Time
}

// Provider is the contract exposed by the email provider implementation.
// Configuration is resolved freshly on every call so settings changes apply
// without a restart.
type Provider interface {
	CheckConfig() error
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
