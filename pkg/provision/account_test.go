package provision

import (
	"context"
	"strings"
	"testing"

	"github.com/orcd/portalctl/pkg/execctx"
)

func TestEnsureUserCreatedThenExists(t *testing.T) {
	created := false
	runner := &fakeRunner{
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			if created {
				return execctx.Result{Stderr: "Error: That username is already taken."}, nil
			}
			created = true
			return execctx.Result{Stdout: "Superuser created successfully."}, nil
		},
	}
	p := NewAccountProvisioner(runner, DefaultLayout(), nil)

	first, err := p.EnsureUser(context.Background(), "admin", "admin@example.org", "hunter2")
	if err != nil {
		t.Fatalf("first EnsureUser() error = %v", err)
	}
	if first != AccountCreated {
		t.Errorf("first outcome = %v, want created", first)
	}

	second, err := p.EnsureUser(context.Background(), "admin", "admin@example.org", "hunter2")
	if err != nil {
		t.Fatalf("second EnsureUser() error = %v", err)
	}
	if second != AccountAlreadyExists {
		t.Errorf("second outcome = %v, want already exists", second)
	}

	// Exactly one creation command per invocation, no fallback used.
	if len(runner.calls) != 2 {
		t.Errorf("runner saw %d commands, want 2", len(runner.calls))
	}
}

func TestEnsureUserPasswordNeverInArgv(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			return execctx.Result{Stdout: "Superuser created successfully."}, nil
		},
	}
	p := NewAccountProvisioner(runner, DefaultLayout(), nil)

	if _, err := p.EnsureUser(context.Background(), "admin", "admin@example.org", "hunter2"); err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}

	cmd := runner.calls[0]
	for _, arg := range cmd.Argv {
		if strings.Contains(arg, "hunter2") {
			t.Errorf("password in argv: %v", cmd.Argv)
		}
	}
	if cmd.Env["DJANGO_SUPERUSER_PASSWORD"] != "hunter2" {
		t.Error("password not passed through the environment")
	}
	if strings.Contains(cmd.Line(), "hunter2") {
		t.Errorf("password visible in rendered line: %q", cmd.Line())
	}
}

func TestEnsureUserFallbackOnUnrecognizedOutput(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			if cmd.Argv[len(cmd.Argv)-1] == "shell" {
				return execctx.Result{Stdout: "EXISTS\n"}, nil
			}
			return execctx.Result{Stdout: "some unrelated noise"}, nil
		},
	}
	p := NewAccountProvisioner(runner, DefaultLayout(), nil)

	outcome, err := p.EnsureUser(context.Background(), "admin", "admin@example.org", "hunter2")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	if outcome != AccountAlreadyExists {
		t.Errorf("outcome = %v, want already exists via fallback", outcome)
	}

	if len(runner.calls) != 2 {
		t.Fatalf("runner saw %d commands, want primary + fallback", len(runner.calls))
	}
	fallback := runner.calls[1]
	if fallback.Stdin == "" {
		t.Error("fallback did not feed the script on stdin")
	}
	if fallback.Env["PORTAL_SU_PASSWORD"] != "hunter2" {
		t.Error("fallback password not passed through the environment")
	}
}

func TestEnsureUserBothAttemptsFail(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			return execctx.Result{}, &execctx.ExitError{Line: cmd.Line(), Result: execctx.Result{ExitCode: 1, Stderr: "boom"}}
		},
	}
	p := NewAccountProvisioner(runner, DefaultLayout(), nil)

	if _, err := p.EnsureUser(context.Background(), "admin", "admin@example.org", "hunter2"); err == nil {
		t.Error("EnsureUser() succeeded, want error when both attempts fail")
	}
	if len(runner.calls) != 2 {
		t.Errorf("runner saw %d commands, want 2", len(runner.calls))
	}
}

func TestEnsureUserDryRun(t *testing.T) {
	runner := &fakeRunner{dryRun: true}
	p := NewAccountProvisioner(runner, DefaultLayout(), nil)

	outcome, err := p.EnsureUser(context.Background(), "admin", "admin@example.org", "hunter2")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	if outcome != AccountCreated {
		t.Errorf("outcome = %v, want created in dry-run", outcome)
	}
}
