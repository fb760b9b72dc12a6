package executor

import "fmt"

type FailureReason string

const (
	ReasonInvalidAction      FailureReason = "invalid_action"
	ReasonPolicyViolation    FailureReason = "policy_violation"
	ReasonMalformedPatch     FailureReason = "malformed_patch"
	ReasonExecutableNotFound FailureReason = "executable_not_found"
	ReasonTimeout            FailureReason = "execution_timeout"
)

// ExecutionError is the tagged failure consumed at the DecideAction boundary.
// Only timeouts are retryable; everything else aborts the attempt loop.
type ExecutionError struct {
	Reason    FailureReason
	Message   string
	Retryable bool
}

func (e *ExecutionError) Error() string { return e.Message }

func failf(reason FailureReason, format string, args ...any) *ExecutionError {
	return &ExecutionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func retryableFailf(reason FailureReason, format string, args ...any) *ExecutionError {
	return &ExecutionError{Reason: reason, Message: fmt.Sprintf(format, args...), Retryable: true}
}
