package sms

import (
	"context"
	"errors"
	"time"
)

// ErrMissingConfig is returned when required gateway credentials are absent.
// A partial credential set is treated the same as a fully missing one.
var ErrMissingConfig = errors.New("sms provider: missing configuration")

// Payload encapsulates the data required to submit one SMS to the gateway.
type Payload struct {
	MessageID string
	To        string
	Body      string
	Meta      map[string]string
}

// RawResponse describes the gateway response for a single submission. Code is
// the gateway result code, where zero means accepted.
type RawResponse struct {
	ID        string
	Code      int
	Message   string
	Body      string
	Timestamp time.Time
}

// Provider represents an outbound SMS gateway. Configuration is resolved
// freshly on every call.
type Provider interface {
	CheckConfig() error
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
