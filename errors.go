package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger error into one of a small, closed set of
// propagation behaviors. Every error returned by this package's public
// operations wraps exactly one Kind.
type Kind string

const (
	// KindInvalid means an argument violates a contract (non-positive
	// amount, empty id). Surfaced immediately; no state change.
	KindInvalid Kind = "invalid"

	// KindNotFound means the referenced entity does not exist. Surfaced;
	// no state change.
	KindNotFound Kind = "not_found"

	// KindInvalidState means the operation is not permitted in the
	// current state machine state. Surfaced; no state change.
	KindInvalidState Kind = "invalid_state"

	// KindInsufficientBalance means there is not enough available balance
	// across selectable lots. The transaction is rolled back.
	KindInsufficientBalance Kind = "insufficient_balance"

	// KindConflict means an idempotency mismatch occurred, or the
	// BUSY-retry schedule was exhausted. Surfaced; no state change.
	KindConflict Kind = "conflict"

	// KindGovernanceLimit means a single-transfer or daily cap was
	// exceeded. The transfer row is persisted as rejected with a reason;
	// this is not thrown as a transaction-aborting error.
	KindGovernanceLimit Kind = "governance_limit"

	// KindPolicyDenied means a provenance or budget pre-check failed.
	// The transfer row is persisted as rejected with a reason; this is
	// not thrown as a transaction-aborting error.
	KindPolicyDenied Kind = "policy_denied"

	// KindInternal means an invariant breach was detected at runtime.
	// Fail-loud: halt the operation and log with full context.
	KindInternal Kind = "internal"
)

// Error is the concrete error type returned by ledger operations. It
// carries a Kind so callers can branch on propagation behavior without
// string matching, plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "Reserve", "Finalize"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger: %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("ledger: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's Kind, so that
// errors.Is(err, ledger.ErrNotFound) works against a *Error built with
// newErr(KindNotFound, ...).
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && errors.Is(target, sentinel)
}

func newErr(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// Sentinel errors, one per Kind, for errors.Is comparisons against a
// *Error without needing to know which operation produced it.
var (
	ErrInvalid             = errors.New("ledger: invalid argument")
	ErrNotFound            = errors.New("ledger: not found")
	ErrInvalidState        = errors.New("ledger: invalid state for operation")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrConflict            = errors.New("ledger: conflict")
	ErrGovernanceLimit     = errors.New("ledger: governance limit exceeded")
	ErrPolicyDenied        = errors.New("ledger: policy denied")
	ErrInternal            = errors.New("ledger: internal invariant breach")
)

var kindSentinels = map[Kind]error{
	KindInvalid:             ErrInvalid,
	KindNotFound:            ErrNotFound,
	KindInvalidState:        ErrInvalidState,
	KindInsufficientBalance: ErrInsufficientBalance,
	KindConflict:            ErrConflict,
	KindGovernanceLimit:     ErrGovernanceLimit,
	KindPolicyDenied:        ErrPolicyDenied,
	KindInternal:            ErrInternal,
}

// ValidationError represents a single field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError collects several errors raised while validating a single
// request so the caller sees all of them at once.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "ledger: no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("ledger: %d errors occurred", len(e.Errors))
	}
}

// Add appends err to the multi-error if it is non-nil.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors reports whether any error has been added.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first collected error, or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound reports whether err is, or wraps, a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInsufficientBalance reports whether err is an insufficient-balance error.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// IsConflict reports whether err is an idempotency or retry-exhaustion conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsGovernanceLimit reports whether err is a single/daily cap rejection.
func IsGovernanceLimit(err error) bool {
	return errors.Is(err, ErrGovernanceLimit)
}

// IsPolicyDenied reports whether err is a provenance/budget pre-check rejection.
func IsPolicyDenied(err error) bool {
	return errors.Is(err, ErrPolicyDenied)
}

// IsRetryable reports whether the operation that produced err can be
// retried unchanged and plausibly succeed (BUSY-retry exhaustion is the
// only such case on the money path; everything else reflects a durable
// contract, state, or balance problem).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInternal reports whether err reflects an invariant breach that
// should halt the caller and be logged with full context rather than
// retried or surfaced to an end user.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}
