package cfgedit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the backend ports. Backends wrap them with
// context; callers match with errors.Is.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrVersionConflict  = errors.New("version stamp mismatch")
	ErrLockNotHeld      = errors.New("lock not held by this identity")
	ErrForbidden        = errors.New("identity is not privileged")
	ErrDraftCorrupt     = errors.New("stored draft is corrupt")
)

// Session-level errors for operations that are not valid right now.
var (
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrReadOnly          = errors.New("session is read-only")
	ErrUnacknowledged    = errors.New("validation issues must be acknowledged")
	ErrClosed            = errors.New("session is closed")
)

// LockHeldError reports that another identity holds the lease.
type LockHeldError struct {
	DocumentID string
	Holder     string
	HeldSince  time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("document %s is locked by %s since %s", e.DocumentID, e.Holder, e.HeldSince.UTC().Format(time.RFC3339))
}

// Kind classifies a failure for the host.
type Kind int

const (
	KindUnknown Kind = iota
	// KindLockDenied: another identity holds the lease, or ours was lost.
	KindLockDenied
	// KindLockRenewalFailed: a heartbeat failed. Non-fatal.
	KindLockRenewalFailed
	// KindValidationFailure: the document cannot be published as-is.
	KindValidationFailure
	// KindPublishConflict: the server revision moved since load.
	KindPublishConflict
	// KindPublishTransportFailure: any other save failure. Retry-safe.
	KindPublishTransportFailure
	// KindDraftCorrupt: a stored draft could not be decoded.
	KindDraftCorrupt
	// KindLoadFailure: the document could not be loaded.
	KindLoadFailure
)

func (k Kind) String() string {
	switch k {
	case KindLockDenied:
		return "LockDenied"
	case KindLockRenewalFailed:
		return "LockRenewalFailed"
	case KindValidationFailure:
		return "ValidationFailure"
	case KindPublishConflict:
		return "PublishConflict"
	case KindPublishTransportFailure:
		return "PublishTransportFailure"
	case KindDraftCorrupt:
		return "DraftCorrupt"
	case KindLoadFailure:
		return "LoadFailure"
	default:
		return "Unknown"
	}
}

// Error is the classified failure handed to the host. Every failure that
// crosses a component boundary into the session is converted to one.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Holder and HeldSince are set for KindLockDenied when known.
	Holder    string
	HeldSince time.Time
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// lockDenied builds a KindLockDenied error, copying holder details from a
// LockHeldError when err carries one.
func lockDenied(op string, err error) *Error {
	e := newError(KindLockDenied, op, err)
	var held *LockHeldError
	if errors.As(err, &held) {
		e.Holder = held.Holder
		e.HeldSince = held.HeldSince
	}
	return e
}

// classifySave converts a DocumentService.Save failure.
func classifySave(err error) *Error {
	if errors.Is(err, ErrVersionConflict) {
		return newError(KindPublishConflict, "publish", err)
	}
	return newError(KindPublishTransportFailure, "publish", err)
}

func invalidTransition(op string, phase Phase) error {
	return fmt.Errorf("%s in phase %s: %w", op, phase, ErrInvalidTransition)
}
