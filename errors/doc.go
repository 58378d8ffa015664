// Package errors provides structured error types for the wallet bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the protocol command, the native export and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseNative, errors.KindTypeMismatch).
//		Export("pw_open").
//		Path("arg1").
//		Detail("want string, got int").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownCommand("frobnicate")
//	err := errors.NotInitialized("get_version")
//
// Failures reported by the execution host reach callers as *RemoteError whose
// message is the host's text unchanged. Job waits that exhaust their budget
// fail with *JobTimeoutError.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
