package netcheck

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/orcd/portalctl/pkg/execctx"
)

// fakeRunner answers commands from a script keyed by the first argv word.
type fakeRunner struct {
	dryRun  bool
	respond func(cmd execctx.Command) (execctx.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd execctx.Command) (execctx.Result, error) {
	return f.respond(cmd)
}

func (f *fakeRunner) WriteFile(_ context.Context, _ string, _ []byte, _ fs.FileMode) error {
	return nil
}

func (f *fakeRunner) Target() execctx.Target { return execctx.Target{Kind: execctx.TargetLocal} }
func (f *fakeRunner) DryRun() bool           { return f.dryRun }

const addrOutput = "2: eth0    inet 10.0.3.5/24 brd 10.0.3.255 scope global eth0\\       valid_lft forever preferred_lft forever\n"

func natOutput(http, https string) string {
	var b strings.Builder
	b.WriteString("-P PREROUTING ACCEPT\n")
	if http != "" {
		b.WriteString("-A PREROUTING -p tcp -m tcp --dport 80 -j DNAT --to-destination " + http + ":80\n")
	}
	if https != "" {
		b.WriteString("-A PREROUTING -p tcp -m tcp --dport 443 -j DNAT --to-destination " + https + ":443\n")
	}
	return b.String()
}

func respondWith(nat string, natErr error) func(execctx.Command) (execctx.Result, error) {
	return func(cmd execctx.Command) (execctx.Result, error) {
		switch cmd.Argv[0] {
		case "ip":
			return execctx.Result{Stdout: addrOutput}, nil
		case "iptables":
			if natErr != nil {
				return execctx.Result{}, natErr
			}
			return execctx.Result{Stdout: nat}, nil
		}
		return execctx.Result{}, errors.New("unexpected command " + cmd.Argv[0])
	}
}

func TestVerifyMatchingRules(t *testing.T) {
	runner := &fakeRunner{respond: respondWith(natOutput("10.0.3.5", "10.0.3.5"), nil)}
	v := New(runner, runner, nil)

	res, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Address != "10.0.3.5" {
		t.Errorf("Address = %q, want 10.0.3.5", res.Address)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", res.Warnings)
	}
}

func TestVerifyMissingRule(t *testing.T) {
	runner := &fakeRunner{respond: respondWith(natOutput("10.0.3.5", ""), nil)}
	v := New(runner, runner, nil)

	_, err := v.Verify(context.Background())
	var ie *IdentityError
	if !errors.As(err, &ie) {
		t.Fatalf("Verify() error = %v, want *IdentityError", err)
	}
	if ie.Port != PortHTTPS {
		t.Errorf("Port = %d, want %d", ie.Port, PortHTTPS)
	}
	if ie.RuleAddress != "" {
		t.Errorf("RuleAddress = %q, want empty for a missing rule", ie.RuleAddress)
	}
	if !strings.Contains(ie.Remediation, "iptables -t nat -A PREROUTING") {
		t.Errorf("Remediation = %q, want an iptables command", ie.Remediation)
	}
}

func TestVerifyMismatchedRule(t *testing.T) {
	runner := &fakeRunner{respond: respondWith(natOutput("10.0.3.99", "10.0.3.5"), nil)}
	v := New(runner, runner, nil)

	_, err := v.Verify(context.Background())
	var ie *IdentityError
	if !errors.As(err, &ie) {
		t.Fatalf("Verify() error = %v, want *IdentityError", err)
	}
	if ie.Port != PortHTTP || ie.RuleAddress != "10.0.3.99" || ie.ActualAddress != "10.0.3.5" {
		t.Errorf("IdentityError = %+v", ie)
	}
	if !strings.Contains(ie.Remediation, "10.0.3.99") {
		t.Errorf("Remediation = %q, want it to mention the rule address", ie.Remediation)
	}
}

// Unreadable rules are a warning, not a failure: verification is a
// safety net, not a requirement.
func TestVerifyUnreadableRulesIsNonFatal(t *testing.T) {
	exitErr := &execctx.ExitError{Line: "iptables -t nat -S PREROUTING", Result: execctx.Result{ExitCode: 4, Stderr: "Permission denied"}}
	runner := &fakeRunner{respond: respondWith("", exitErr)}
	v := New(runner, runner, nil)

	res, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v, want nil", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", res.Warnings)
	}
}

func TestVerifySkippedInDryRun(t *testing.T) {
	runner := &fakeRunner{
		dryRun: true,
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			t.Fatalf("command executed during dry-run verify: %v", cmd.Argv)
			return execctx.Result{}, nil
		},
	}
	v := New(runner, runner, nil)

	res, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Address != "" || len(res.Warnings) != 1 {
		t.Errorf("Result = %+v, want skipped with one warning", res)
	}
}

func TestParsePrimaryAddress(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"single interface", addrOutput, "10.0.3.5"},
		{"no addresses", "", ""},
		{"garbage", "not ip output\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePrimaryAddress(tt.output); got != tt.want {
				t.Errorf("parsePrimaryAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDNATRules(t *testing.T) {
	rules := parseDNATRules(natOutput("10.0.3.5", "10.0.3.7"))
	if rules[80] != "10.0.3.5" || rules[443] != "10.0.3.7" {
		t.Errorf("parseDNATRules() = %v", rules)
	}
}
