package common

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the dispatch error taxonomy. Callers classify
// failures with errors.Is rather than string matching.
var (
	// ErrValidation marks a request rejected before any side effect (empty
	// recipient list, oversized SMS body).
	ErrValidation = errors.New("validation error")
	// ErrConfigMissing marks a request rejected because required channel
	// credentials are absent. Partial credential sets count as fully missing.
	ErrConfigMissing = errors.New("configuration missing")
	// ErrProvider marks a failed delivery attempt: the gateway returned a
	// failure, a malformed response, or the network call failed. Caught per
	// recipient, never aborts a batch.
	ErrProvider = errors.New("provider error")
	// ErrPersistence marks a failed ledger/job/campaign write. Logged and
	// tolerated in favour of overall job progress.
	ErrPersistence = errors.New("persistence error")
)

// WrapValidation annotates an error as a validation failure.
func WrapValidation(err error) error {
	if err == nil {
		return ErrValidation
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// WrapConfigMissing annotates an error as missing configuration.
func WrapConfigMissing(err error) error {
	if err == nil {
		return ErrConfigMissing
	}
	return fmt.Errorf("%w: %v", ErrConfigMissing, err)
}

// WrapProvider annotates an error as a provider failure.
func WrapProvider(err error) error {
	if err == nil {
		return ErrProvider
	}
	return fmt.Errorf("%w: %v", ErrProvider, err)
}

// WrapPersistence annotates an error as a persistence failure.
func WrapPersistence(err error) error {
	if err == nil {
		return ErrPersistence
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
