// Package calerr defines the error taxonomy shared by every context
// replication component: DAG store, delta applier, and sync engine.
package calerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch by callers that need to react
// differently (retry, drop, escalate) without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidAction
	KindHashMismatch
	KindApplicationNotAvailable
	KindSenderKeyMissing
	KindTimeout
	KindProtocolError
	KindAuthenticationFailed
	KindBoundaryMismatch
	KindResumeCursorInvalid
	KindIncompatibleParams
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidAction:
		return "invalid_action"
	case KindHashMismatch:
		return "hash_mismatch"
	case KindApplicationNotAvailable:
		return "application_not_available"
	case KindSenderKeyMissing:
		return "sender_key_missing"
	case KindTimeout:
		return "timeout"
	case KindProtocolError:
		return "protocol_error"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindBoundaryMismatch:
		return "boundary_mismatch"
	case KindResumeCursorInvalid:
		return "resume_cursor_invalid"
	case KindIncompatibleParams:
		return "incompatible_params"
	default:
		return "unknown"
	}
}

// Sentinel errors. Wrap with fmt.Errorf("...: %w", Err*) to add context
// while preserving errors.Is matching.
var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidAction            = errors.New("invalid action")
	ErrHashMismatch              = errors.New("hash mismatch")
	ErrApplicationNotAvailable = errors.New("application not available")
	ErrSenderKeyMissing        = errors.New("sender key missing")
	ErrTimeout                 = errors.New("timeout")
	ErrProtocolError           = errors.New("protocol error")
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrBoundaryMismatch        = errors.New("boundary mismatch")
	ErrResumeCursorInvalid     = errors.New("resume cursor invalid")
	ErrIncompatibleParams      = errors.New("incompatible params")
)

var kindOf = map[error]Kind{
	ErrNotFound:                KindNotFound,
	ErrInvalidAction:           KindInvalidAction,
	ErrHashMismatch:            KindHashMismatch,
	ErrApplicationNotAvailable: KindApplicationNotAvailable,
	ErrSenderKeyMissing:        KindSenderKeyMissing,
	ErrTimeout:                 KindTimeout,
	ErrProtocolError:           KindProtocolError,
	ErrAuthenticationFailed:    KindAuthenticationFailed,
	ErrBoundaryMismatch:        KindBoundaryMismatch,
	ErrResumeCursorInvalid:     KindResumeCursorInvalid,
	ErrIncompatibleParams:      KindIncompatibleParams,
}

// Classify walks err's chain and returns the Kind of the first sentinel it
// matches, or KindUnknown if none do.
func Classify(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Wrap annotates a sentinel error with context, preserving errors.Is.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// Retriable reports whether a delta that failed with err should stay
// pending rather than be rejected outright: only ApplicationNotAvailable.
func Retriable(err error) bool {
	return errors.Is(err, ErrApplicationNotAvailable)
}
