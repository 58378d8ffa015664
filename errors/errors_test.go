package errors

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseNative,
				Kind:    KindTypeMismatch,
				Command: "open",
				Export:  "pw_open",
				Path:    []string{"arg1"},
				Detail:  "want string, got int",
			},
			contains: []string{"[native]", "type_mismatch", "open (pw_open)", "arg1", "want string"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDispatch,
				Kind:  KindNotInitialized,
			},
			contains: []string{"[dispatch]", "not_initialized"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseStorage,
				Kind:   KindFailed,
				Detail: "persist",
				Cause:  errors.New("disk full"),
			},
			contains: []string{"[storage]", "failed", "persist", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseLoad, KindInvalidData, cause, "compile")

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
}

func TestError_Is(t *testing.T) {
	err := NotInitialized("get_version")

	if !errors.Is(err, ErrNotInitialized) {
		t.Error("errors.Is should match sentinel with same phase and kind")
	}
	if errors.Is(err, ErrUnknownCommand) {
		t.Error("errors.Is should not match different kind")
	}
	if errors.Is(Closed(PhaseTransport, "pipe"), ErrClosed) {
		t.Error("errors.Is should not match different phase")
	}
	if !errors.Is(Closed(PhaseClient, "client"), ErrClosed) {
		t.Error("client close should match ErrClosed")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseNative, KindTypeMismatch).
		Command("init").
		Export("pw_init").
		Path("arg2").
		Value(42).
		Cause(cause).
		Detail("want %s, got %s", "s32", "string").
		Build()

	if err.Phase != PhaseNative {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseNative)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if err.Command != "init" || err.Export != "pw_init" {
		t.Errorf("Command/Export = %q/%q", err.Command, err.Export)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if err.Detail != "want s32, got string" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable")
	}
}

func TestUnknownCommand(t *testing.T) {
	err := UnknownCommand("frobnicate")
	if !strings.Contains(err.Error(), "Unknown worker command: frobnicate") {
		t.Errorf("message %q does not name the command", err.Error())
	}
	if err.Value != "frobnicate" {
		t.Errorf("Value = %v", err.Value)
	}
}

func TestFault(t *testing.T) {
	withErr := Fault("open", errors.New("boom"))
	if withErr.Cause == nil || withErr.Detail != "" {
		t.Errorf("error panic value should become the cause: %+v", withErr)
	}

	withString := Fault("open", "nil map write")
	if withString.Cause != nil || withString.Detail != "nil map write" {
		t.Errorf("non-error panic value should become the detail: %+v", withString)
	}
	if !errors.Is(withString, ErrNativeFault) {
		t.Error("fault should match ErrNativeFault")
	}
}

func TestRemoteError(t *testing.T) {
	err := error(&RemoteError{Command: "open", Message: "Invalid wallet password"})
	if err.Error() != "Invalid wallet password" {
		t.Errorf("message should be verbatim, got %q", err.Error())
	}

	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Command != "open" {
		t.Error("errors.As should extract RemoteError")
	}
}

func TestJobTimeoutError(t *testing.T) {
	err := error(&JobTimeoutError{Handle: 7, Budget: 50 * time.Millisecond})
	if err.Error() != "Job 7 timed out after 50ms" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, &JobTimeoutError{}) {
		t.Error("errors.Is should match any JobTimeoutError")
	}
	if errors.Is(err, &JobFailedError{}) {
		t.Error("timeout must not look like a job failure")
	}
}

func TestJobFailedError(t *testing.T) {
	if msg := (&JobFailedError{Handle: 1}).Error(); msg != "Job failed" {
		t.Errorf("default message = %q", msg)
	}
	if msg := (&JobFailedError{Handle: 1, Message: "no funds"}).Error(); msg != "no funds" {
		t.Errorf("message = %q", msg)
	}
}
