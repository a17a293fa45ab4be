package memory

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
// Component errors are wrapped with component identity and owner id; the
// consumer surface collapses them to a small set of kinds. Full detail
// stays in logs.

// Kind classifies an error for the consumer surface.
type Kind int

const (
	KindOK Kind = iota

	// KindDegraded: the call succeeded but a fallback path was taken
	// (heuristic extractor, skipped gate stage, stale pattern).
	KindDegraded

	// KindInvalid: malformed input; the offending field is named.
	KindInvalid

	// KindUnavailable: transient dependency failure; caller may retry.
	KindUnavailable

	// KindDenied: policy violation (Vault egress, cross-owner access).
	// The offending call returns without partial effect.
	KindDenied
)

// String returns the return-kind name used on the consumer surface.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindDegraded:
		return "degraded"
	case KindInvalid:
		return "invalid"
	case KindUnavailable:
		return "unavailable"
	case KindDenied:
		return "denied"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound means the memory id does not exist under this owner.
	ErrNotFound = errors.New("memory not found")

	// ErrCrossOwner means a call tried to reach another owner's state.
	ErrCrossOwner = errors.New("cross-owner access denied")

	// ErrVaultEgress means Vault content was about to leave the core.
	ErrVaultEgress = errors.New("vault content may not leave the core")

	// ErrInvalidFrame means a context frame or delta failed validation.
	ErrInvalidFrame = errors.New("invalid context frame")

	// ErrInvalidRequest means a consumer call failed validation; the
	// wrapping names the offending field.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownContextTag means a context tag is not in the recognized set.
	ErrUnknownContextTag = errors.New("unknown context tag")

	// ErrConflict means a compare-and-set lost against a concurrent writer.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrStoreUnavailable means the durable store rejected the call.
	ErrStoreUnavailable = errors.New("durable store unavailable")
)

// Wrap annotates err with the component and owner it occurred in.
func Wrap(component, ownerID string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s[owner=%s]: %w", component, ownerID, err)
}

// KindOf collapses an error into its consumer-surface kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrCrossOwner), errors.Is(err, ErrVaultEgress):
		return KindDenied
	case errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrUnknownContextTag),
		errors.Is(err, ErrInvalidRequest):
		return KindInvalid
	case errors.Is(err, ErrNotFound):
		return KindInvalid
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStoreUnavailable):
		return KindUnavailable
	default:
		return KindUnavailable
	}
}
