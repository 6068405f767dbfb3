package patch

import (
	"errors"
	"fmt"
	"strings"
)

// maxErrorDetails bounds the details carried by a structural error.
const maxErrorDetails = 8

// ErrorKind classifies a patch failure.
type ErrorKind string

const (
	// KindSelector: a node selector or connection endpoint did not resolve.
	KindSelector ErrorKind = "selector"
	// KindStructural: the graph failed the preflight or postflight check.
	KindStructural ErrorKind = "structural"
	// KindVerification: the store accepted the write but the re-read
	// graph does not show a claimed change.
	KindVerification ErrorKind = "verification"
	// KindCollaborator: the workflow store failed.
	KindCollaborator ErrorKind = "collaborator"
	// KindInvalid: the operation batch itself is malformed.
	KindInvalid ErrorKind = "invalid"
	// KindConflict: the workflow changed remotely since it was fetched.
	KindConflict ErrorKind = "conflict"
)

// Sentinels for errors.Is; every *Error matches the sentinel of its kind.
var (
	ErrSelector           = errors.New("patch: selector error")
	ErrStructural         = errors.New("patch: structural validation failed")
	ErrVerificationFailed = errors.New("patch: post-save verification failed")
	ErrCollaborator       = errors.New("patch: workflow store error")
	ErrInvalidOperation   = errors.New("patch: invalid operation")
	ErrConflict           = errors.New("patch: workflow modified concurrently")
)

var kindSentinels = map[ErrorKind]error{
	KindSelector:     ErrSelector,
	KindStructural:   ErrStructural,
	KindVerification: ErrVerificationFailed,
	KindCollaborator: ErrCollaborator,
	KindInvalid:      ErrInvalidOperation,
	KindConflict:     ErrConflict,
}

// Error is returned for every failed patch. Op is the zero-based index of
// the offending operation, or -1 when the failure is not tied to one.
type Error struct {
	Kind    ErrorKind
	Phase   Phase
	Op      int
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(kindSentinels[e.Kind].Error())
	if e.Op >= 0 {
		fmt.Fprintf(&b, " (operation %d)", e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Details) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind ErrorKind, phase Phase, op int, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Phase:   phase,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func boundDetails(details []string) []string {
	if len(details) <= maxErrorDetails {
		return details
	}
	return append([]string(nil), details[:maxErrorDetails]...)
}
