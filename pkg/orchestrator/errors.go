// Package orchestrator owns the ordered deployment phase table and the
// state machine that runs it: selection, preconditions, actions,
// postcondition verification, and the aggregated run report.
package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a deployment error for reporting and halt logic.
type ErrorClass string

const (
	// ErrorClassConfig indicates missing or malformed configuration.
	// Always fatal, always reported as a complete list.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassExecution indicates an external command failed. Fatal
	// unless the calling provisioner recognized the failure as an
	// expected already-satisfied condition.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassVerification indicates a postcondition failed after the
	// phase action appeared to succeed. Fatal; the external system is in
	// a partial or inconsistent state.
	ErrorClassVerification ErrorClass = "verification"

	// ErrorClassNetworkIdentity indicates the pre-flight address check
	// found a mismatch between the target and the translation rules.
	ErrorClassNetworkIdentity ErrorClass = "network-identity"
)

// DeployError is a classified deployment error with remediation context.
type DeployError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Phase is the phase name during which the error occurred.
	Phase string `json:"phase,omitempty"`

	// Remediation is the literal corrective action the operator should
	// take, when one is known.
	Remediation string `json:"remediation,omitempty"`

	// Fatal reports whether this error halts the phase sequence.
	Fatal bool `json:"fatal"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	if e.Phase != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Phase, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeployError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two deployment errors
// match when their classes match.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithPhase adds phase context to an error.
func (e *DeployError) WithPhase(phase string) *DeployError {
	e.Phase = phase
	return e
}

// WithRemediation adds the corrective action the operator should take.
func (e *DeployError) WithRemediation(remediation string) *DeployError {
	e.Remediation = remediation
	return e
}

// NewConfigError creates a fatal configuration error.
func NewConfigError(message string, err error) *DeployError {
	return &DeployError{Class: ErrorClassConfig, Message: message, Fatal: true, Err: err}
}

// NewExecutionError creates a fatal execution error.
func NewExecutionError(message string, err error) *DeployError {
	return &DeployError{Class: ErrorClassExecution, Message: message, Fatal: true, Err: err}
}

// NewExecutionWarning creates the non-fatal variant for failures that are
// surfaced in the run report without halting the sequence.
func NewExecutionWarning(message string, err error) *DeployError {
	return &DeployError{Class: ErrorClassExecution, Message: message, Fatal: false, Err: err}
}

// NewVerificationError creates a fatal verification error.
func NewVerificationError(message string, err error) *DeployError {
	return &DeployError{Class: ErrorClassVerification, Message: message, Fatal: true, Err: err}
}

// NewNetworkIdentityError creates a fatal pre-flight identity error.
func NewNetworkIdentityError(message string, err error) *DeployError {
	return &DeployError{Class: ErrorClassNetworkIdentity, Message: message, Fatal: true, Err: err}
}

// NewNetworkIdentityWarning creates the non-fatal variant used when the
// translation rules cannot be read at all.
func NewNetworkIdentityWarning(message string, err error) *DeployError {
	return &DeployError{Class: ErrorClassNetworkIdentity, Message: message, Fatal: false, Err: err}
}

// IsFatal reports whether err halts the phase sequence. Unclassified
// errors are treated as fatal.
func IsFatal(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Fatal
	}
	return err != nil
}

// Remediation extracts the remediation text from an error chain, if any.
func Remediation(err error) string {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Remediation
	}
	return ""
}
