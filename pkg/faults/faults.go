// Package faults defines the shared error classification used across the
// backend. Every layer that can fail tags its errors with a Kind so callers
// (and ultimately the HTTP/WebSocket boundary) can distinguish operator
// problems from caller problems without string matching.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by who has to act on it.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no classification.
	KindUnknown Kind = iota

	// KindConfiguration covers missing credentials, absent services after
	// startup, and other operator-fixable problems. Always fatal and loud.
	KindConfiguration

	// KindPolicy covers authorization failures: credentials present but
	// rejected, malformed service identities, and similar caller problems.
	KindPolicy

	// KindIsolation covers detected sharing of request-scoped resources.
	// Fatal at the point of detection; never recovered locally.
	KindIsolation

	// KindTransient covers conditions the caller should retry, such as a
	// host that has not finished starting up.
	KindTransient

	// KindValidation covers malformed inbound payloads. Local and non-fatal:
	// the single message is rejected, nothing else is touched.
	KindValidation
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPolicy:
		return "policy"
	case KindIsolation:
		return "isolation_violation"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Machine-readable codes. These are stable identifiers consumed by clients
// and alerting; do not rename without a migration plan.
const (
	CodeMissingServiceCredentials = "missing_service_credentials"
	CodeServiceRejected           = "service_credentials_rejected"
	CodeInvalidServiceIdentity    = "invalid_service_identity"
	CodeSessionNotRequestScoped   = "session_not_request_scoped"
	CodeSessionGloballyStored     = "session_globally_stored"
	CodeSessionClosed             = "session_closed"
	CodeStartupInProgress         = "startup_in_progress"
	CodeServiceMissing            = "critical_service_missing"
	CodeContextUnavailable        = "context_service_unavailable"
	CodeInvalidPayload            = "invalid_payload"
)

// Fault is a classified error. It wraps an optional cause and carries a
// remediation hint for operator-facing kinds.
type Fault struct {
	Kind Kind
	Code string
	Msg  string
	Hint string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", f.Code, f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s (%s): %s", f.Code, f.Kind, f.Msg)
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a classified error.
func New(kind Kind, code, msg string) *Fault {
	return &Fault{Kind: kind, Code: code, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(err error, kind Kind, code, msg string) *Fault {
	return &Fault{Kind: kind, Code: code, Msg: msg, Err: err}
}

// WithHint attaches a remediation hint and returns the fault.
func (f *Fault) WithHint(hint string) *Fault {
	f.Hint = hint
	return f
}

// KindOf returns the classification of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code of err, or "" if err carries none.
func CodeOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsKind reports whether err is classified as the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
