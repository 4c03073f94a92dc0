package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned by mutation entry points when there is
	// no signing identity. Nothing is written in that case.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrCapabilityMissing means the active identity cannot encrypt, so
	// private items cannot be added. Public mutations are unaffected.
	ErrCapabilityMissing = errors.New("encryption capability missing")

	// ErrDecryption marks a private payload that could not be recovered.
	// Callers degrade to zero private items.
	ErrDecryption = errors.New("decryption failed")

	// ErrTimeout is a network operation that ran past its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrPartialRead is a query that some read relays failed to answer. It
	// counts as a timeout; whatever did arrive may be incomplete.
	ErrPartialRead = fmt.Errorf("%w: some relays did not answer", ErrTimeout)

	ErrSetNotFound   = errors.New("bookmark set not found")
	ErrInvalidItem   = errors.New("invalid bookmark item")
	ErrDuplicateItem = errors.New("item already in set")
	ErrEmptyTitle    = errors.New("set title is required")
)

// RejectionError is a relay refusing a published record.
type RejectionError struct {
	Relay  string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Relay == "" {
		return fmt.Sprintf("relay rejected record: %s", e.Reason)
	}
	return fmt.Sprintf("relay %s rejected record: %s", e.Relay, e.Reason)
}

// FailureReason classifies a settle error for logs and the API.
func FailureReason(err error) string {
	var rej *RejectionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &rej):
		return "rejected"
	case errors.Is(err, ErrCapabilityMissing):
		return "capability_missing"
	default:
		return "error"
	}
}
