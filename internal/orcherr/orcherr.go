// Package orcherr defines the error taxonomy that flows through the
// orchestrator: every failure surfaced on a node or an execution carries
// one of these kinds so callers can distinguish "the program did something
// disallowed" from "the provider fell over" from "we ran out of time".
package orcherr

import "fmt"

// Kind buckets a failure the way spec.md §7 requires it to be bucketed.
type Kind string

const (
	SandboxViolation   Kind = "SandboxViolation"
	ProgramRuntimeError Kind = "ProgramRuntimeError"
	ProviderError       Kind = "ProviderError"
	RecursionLimit      Kind = "RecursionLimit"
	DeadlineExceeded    Kind = "DeadlineExceeded"
	ContextTooLarge     Kind = "ContextTooLarge"
	NoFinal             Kind = "NoFinal"
)

// Error is a Kind-tagged error. Nodes and executions store Kind and
// Message separately (see internal/trace), but orchestration code passes
// them around as a single Go error via this type.
type Error struct {
	Kind    Kind
	Message string
	Name    string // offending identifier, populated for SandboxViolation
	Cause   error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// As reports whether err (or something it wraps) is an *Error of kind k.
func As(err error, k Kind) (*Error, bool) {
	e, ok := err.(*Error)
	if !ok {
		return nil, false
	}
	if e.Kind != k {
		return nil, false
	}
	return e, true
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Named(kind Kind, message, name string) *Error {
	return &Error{Kind: kind, Message: message, Name: name}
}
