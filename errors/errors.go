package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Phase indicates where in the request lifecycle the error occurred
type Phase string

const (
	PhaseTransport Phase = "transport" // channel send/receive
	PhaseProtocol  Phase = "protocol"  // envelope encoding and demultiplexing
	PhaseDispatch  Phase = "dispatch"  // host command routing
	PhaseLoad      Phase = "load"      // module loading
	PhaseNative    Phase = "native"    // calls into the wallet module
	PhaseStorage   Phase = "storage"   // persist/reload
	PhaseClient    Phase = "client"    // client facade lifecycle
	PhaseJob       Phase = "job"       // async job polling
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseParse     Phase = "parse"     // signature parsing
)

// Kind categorizes the error
type Kind string

const (
	KindNotInitialized Kind = "not_initialized"
	KindUnknownCommand Kind = "unknown_command"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindTypeMismatch   Kind = "type_mismatch"
	KindNotFound       Kind = "not_found"
	KindAllocation     Kind = "allocation"
	KindFault          Kind = "fault"
	KindFailed         Kind = "failed"
	KindTimeout        Kind = "timeout"
	KindClosed         Kind = "closed"
	KindHostFailure    Kind = "host_failure"
	KindUnmatched      Kind = "unmatched"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Command string
	Export  string
	Detail  string
	Path    []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	switch {
	case e.Command != "" && e.Export != "":
		b.WriteString(" at ")
		b.WriteString(e.Command)
		b.WriteString(" (")
		b.WriteString(e.Export)
		b.WriteByte(')')
	case e.Command != "":
		b.WriteString(" at ")
		b.WriteString(e.Command)
	case e.Export != "":
		b.WriteString(" at ")
		b.WriteString(e.Export)
	}

	if len(e.Path) > 0 {
		b.WriteString(" field ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is. Matching is by Phase and Kind only.
var (
	ErrNotInitialized = &Error{Phase: PhaseDispatch, Kind: KindNotInitialized}
	ErrUnknownCommand = &Error{Phase: PhaseDispatch, Kind: KindUnknownCommand}
	ErrClosed         = &Error{Phase: PhaseClient, Kind: KindClosed}
	ErrHostFailure    = &Error{Phase: PhaseTransport, Kind: KindHostFailure}
	ErrNativeFault    = &Error{Phase: PhaseNative, Kind: KindFault}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the payload field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Command sets the protocol command name
func (b *Builder) Command(name string) *Builder {
	b.err.Command = name
	return b
}

// Export sets the native export name
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotInitialized creates a not-initialized error for a command sent before load
func NotInitialized(command string) *Error {
	return &Error{
		Phase:   PhaseDispatch,
		Kind:    KindNotInitialized,
		Command: command,
		Detail:  "WASM module not initialized",
	}
}

// UnknownCommand creates an error naming an unrecognized command
func UnknownCommand(name string) *Error {
	return &Error{
		Phase:   PhaseDispatch,
		Kind:    KindUnknownCommand,
		Command: name,
		Detail:  fmt.Sprintf("Unknown worker command: %s", name),
		Value:   name,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidPayload creates an error for a payload that does not decode into the command's shape
func InvalidPayload(command string, cause error) *Error {
	return &Error{
		Phase:   PhaseDispatch,
		Kind:    KindInvalidInput,
		Command: command,
		Detail:  "decode payload",
		Cause:   cause,
	}
}

// TypeMismatch creates an argument type mismatch error for a native export
func TypeMismatch(export string, index int, want string, got any) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindTypeMismatch,
		Export: export,
		Path:   []string{fmt.Sprintf("arg%d", index)},
		Detail: fmt.Sprintf("want %s, got %T", want, got),
		Value:  got,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// AllocationFailed creates a guest allocation failure error
func AllocationFailed(export string, size uint32) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindAllocation,
		Export: export,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
	}
}

// Fault creates an error for a trap or panic raised while executing a command
func Fault(command string, recovered any) *Error {
	var cause error
	if err, ok := recovered.(error); ok {
		cause = err
	}
	e := &Error{
		Phase:   PhaseNative,
		Kind:    KindFault,
		Command: command,
		Cause:   cause,
		Value:   recovered,
	}
	if cause == nil {
		e.Detail = fmt.Sprint(recovered)
	}
	return e
}

// Trap wraps a failed guest call
func Trap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindFault,
		Export: export,
		Detail: "call",
		Cause:  cause,
	}
}

// Closed creates an error for operations on a terminated client or channel
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " closed",
	}
}

// HostFailure creates an error for a failed execution host
func HostFailure(cause error) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindHostFailure,
		Detail: "execution host failed",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Storage creates a persist/reload failure
func Storage(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseStorage,
		Kind:   KindFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// RemoteError is a failure description carried by a response envelope.
// Its message is the host's text, verbatim.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is reports whether target is a RemoteError
func (e *RemoteError) Is(target error) bool {
	_, ok := target.(*RemoteError)
	return ok
}

// JobTimeoutError is the client-local failure of a job wait that ran out of budget.
// The job itself may still be running inside the module.
type JobTimeoutError struct {
	Handle uint64
	Budget time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("Job %d timed out after %dms", e.Handle, e.Budget.Milliseconds())
}

// Is reports whether target is a JobTimeoutError
func (e *JobTimeoutError) Is(target error) bool {
	_, ok := target.(*JobTimeoutError)
	return ok
}

// JobFailedError is a job that reached the failed state
type JobFailedError struct {
	Handle  uint64
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return "Job failed"
	}
	return e.Message
}

// Is reports whether target is a JobFailedError
func (e *JobFailedError) Is(target error) bool {
	_, ok := target.(*JobFailedError)
	return ok
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
