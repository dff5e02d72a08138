package domain

import "fmt"

// Kind identifies which bucket of the spec §7 error taxonomy an error
// belongs to, so the HTTP layer can map it to a status code without string
// sniffing.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindInstanceAlreadyRunning Kind = "instance_already_running"
	KindAgentNotFoundOnAppend  Kind = "agent_not_found_on_append"
	KindBackend                Kind = "backend"
	KindIO                     Kind = "io"
	KindCancelled              Kind = "cancelled"
)

// Error is the concrete type backing every domain error kind. Callers
// pattern-match with errors.As and inspect Kind rather than sniffing message
// text (spec §9: "do not rely on message-string sniffing").
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &Error{Kind: ...}) comparisons by kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewValidationError(message string) *Error { return newError(KindValidation, message) }
func NewNotFoundError(message string) *Error    { return newError(KindNotFound, message) }
func NewConflictError(message string) *Error    { return newError(KindConflict, message) }
func NewCancelledError(message string) *Error   { return newError(KindCancelled, message) }

// NewInstanceAlreadyRunningError carries the holder's pid/port per spec §7.
func NewInstanceAlreadyRunningError(holder ProcessLock) *Error {
	return &Error{
		Kind:    KindInstanceAlreadyRunning,
		Message: fmt.Sprintf("another instance is already running (pid=%d, port=%d)", holder.PID, holder.Port),
	}
}

// NewAgentNotFoundOnAppendError is the fatal FK-violation signal from §4.1/§4.8.
func NewAgentNotFoundOnAppendError(agentID string) *Error {
	return &Error{Kind: KindAgentNotFoundOnAppend, Message: "agent not found: " + agentID}
}

// NewBackendError wraps an upstream CLI/proxy failure.
func NewBackendError(message string, err error) *Error {
	return &Error{Kind: KindBackend, Message: message, Err: err}
}

// NewIOError wraps a filesystem/network I/O failure.
func NewIOError(message string, err error) *Error {
	return &Error{Kind: KindIO, Message: message, Err: err}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
