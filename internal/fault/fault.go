// internal/fault/fault.go
//
// Typed error values for the control plane.
//
// Context
// -------
// Every public operation in the registry, pool, provisioning, and
// repository packages returns either a success value or a *fault.Error.
// The Code targets automated handling (HTTP status mapping, retry
// decisions); Msg is for the operator; Op and Err chain into a logical
// stack trace.  Non-fatal kinds (ESeed, EAudit) are logged and swallowed
// at the policy boundary, never propagated past it.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes understood by callers.
const (
	EInvalid      = "invalid argument"
	ENotFound     = "not found"
	EConflict     = "already exists"
	EUnavailable  = "connection error"
	EProvisioning = "provisioning error"
	ESeed         = "seed error"
	EAudit        = "audit error"
	EInternal     = "internal error"
)

// Error carries a machine code, an operator message, and the logical
// operation that produced it.  TenantID and Step are populated only for
// EProvisioning so a retry path can resume from the failed step.
type Error struct {
	Code     string
	Msg      string
	Op       string
	TenantID string
	Step     string
	Err      error
}

// Error writes out the recursive messages.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		fmt.Fprintf(&b, "<%s>", e.Code)
	}
	return b.String()
}

// Unwrap exposes the wrapped error to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns the code of the first *Error in err's chain, or
// EInternal for non-nil errors of unknown shape.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return EInternal
}

// Invalid builds an EInvalid error.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Code: EInvalid, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds an ENotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Code: ENotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conflict builds an EConflict error.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Code: EConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a session-factory or driver failure.
func Unavailable(op string, err error) *Error {
	return &Error{Code: EUnavailable, Op: op, Msg: "cannot open session", Err: err}
}

// Provisioning wraps a physical create/drop/rename/migrate failure with
// the tenant id and step name needed for resumability.
func Provisioning(op, tenantID, step string, err error) *Error {
	return &Error{
		Code:     EProvisioning,
		Op:       op,
		Msg:      fmt.Sprintf("tenant %s: step %s failed", tenantID, step),
		TenantID: tenantID,
		Step:     step,
		Err:      err,
	}
}
