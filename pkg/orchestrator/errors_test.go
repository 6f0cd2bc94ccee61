package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDeployErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   *DeployError
		class ErrorClass
		fatal bool
	}{
		{"config", NewConfigError("missing fields", nil), ErrorClassConfig, true},
		{"execution", NewExecutionError("command failed", nil), ErrorClassExecution, true},
		{"execution warning", NewExecutionWarning("superuser not provisioned", nil), ErrorClassExecution, false},
		{"verification", NewVerificationError("proxy down", nil), ErrorClassVerification, true},
		{"network identity", NewNetworkIdentityError("rule mismatch", nil), ErrorClassNetworkIdentity, true},
		{"network identity warning", NewNetworkIdentityWarning("rules unreadable", nil), ErrorClassNetworkIdentity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Class != tt.class {
				t.Errorf("Class = %v, want %v", tt.err.Class, tt.class)
			}
			if IsFatal(tt.err) != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", IsFatal(tt.err), tt.fatal)
			}
		})
	}
}

func TestDeployErrorIsMatchesClass(t *testing.T) {
	err := NewVerificationError("proxy down", nil).WithPhase("prerequisites")

	if !errors.Is(err, &DeployError{Class: ErrorClassVerification}) {
		t.Error("errors.Is() does not match on class")
	}
	if errors.Is(err, &DeployError{Class: ErrorClassConfig}) {
		t.Error("errors.Is() matched a different class")
	}
}

func TestDeployErrorUnwrap(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewExecutionError("migration failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() does not reach the underlying cause")
	}

	wrapped := fmt.Errorf("phase 5: %w", err)
	var de *DeployError
	if !errors.As(wrapped, &de) {
		t.Fatal("errors.As() does not find DeployError through wrapping")
	}
	if Remediation(wrapped) != "" {
		t.Errorf("Remediation() = %q, want empty", Remediation(wrapped))
	}
}

func TestDeployErrorRemediation(t *testing.T) {
	err := NewVerificationError("service inactive", nil).WithRemediation("journalctl -u coldfront -n 50")

	if got := Remediation(err); got != "journalctl -u coldfront -n 50" {
		t.Errorf("Remediation() = %q", got)
	}
}

func TestDeployErrorMessageIncludesPhaseAndCause(t *testing.T) {
	err := NewExecutionError("migration failed", errors.New("exit status 1")).WithPhase("datastore init")

	msg := err.Error()
	for _, want := range []string{"execution", "datastore init", "migration failed", "exit status 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestIsFatalUnclassified(t *testing.T) {
	if !IsFatal(errors.New("plain")) {
		t.Error("IsFatal() on unclassified error = false, want true")
	}
	if IsFatal(nil) {
		t.Error("IsFatal(nil) = true")
	}
}
