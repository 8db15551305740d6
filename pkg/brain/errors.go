package brain

import "fmt"

// NotConfiguredError reports a collaborator with no usable credentials.
type NotConfiguredError struct {
	Collaborator string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Collaborator)
}

// RuntimeInvocationError wraps a failed agent-runtime call. The
// caller's previous session remains valid; no session state was
// updated.
type RuntimeInvocationError struct {
	Err error
}

func (e *RuntimeInvocationError) Error() string {
	return fmt.Sprintf("runtime invocation failed: %v", e.Err)
}

func (e *RuntimeInvocationError) Unwrap() error { return e.Err }
