package domain

import (
	"errors"
	"fmt"
)

var (
	ErrLinkNotFound           = errors.New("link not found")
	ErrUnroutable             = errors.New("no platform matches URL")
	ErrTerminalStatus         = errors.New("link is in a terminal status")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrMissingCredentials     = errors.New("missing credentials")
	ErrSessionUnavailable     = errors.New("browser session unavailable")
	ErrStoreUnavailable       = errors.New("link store unavailable")
	ErrArtifactMissing        = errors.New("capture artifact missing or empty")
	ErrIngestionFailed        = errors.New("ingestion failed")
)

// FailureKind classifies why a link ended up Failed.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureRouting   FailureKind = "routing"
	FailureSession   FailureKind = "session"
	FailureCapture   FailureKind = "capture"
	FailureNotFound  FailureKind = "not_found"
	FailureIngestion FailureKind = "ingestion"
	FailureStore     FailureKind = "store"
)

// ProcessError is a per-link failure with its taxonomy kind.
type ProcessError struct {
	Kind   FailureKind
	LinkID int64
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("link %d: %s failure: %v", e.LinkID, e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) FailureKind {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return FailureStore
	}
	return FailureNone
}
