package execctx

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

// failingTransport fails the test if anything reaches it.
type failingTransport struct {
	t *testing.T
}

func (f *failingTransport) Run(_ context.Context, cmd Command) (Result, error) {
	f.t.Fatalf("transport invoked in dry-run: %v", cmd.Argv)
	return Result{}, nil
}

func (f *failingTransport) WriteFile(_ context.Context, path string, _ []byte, _ fs.FileMode) error {
	f.t.Fatalf("transport write invoked in dry-run: %s", path)
	return nil
}

// recordingTransport captures what the context forwards to it.
type recordingTransport struct {
	commands []Command
	writes   []string
	result   Result
	err      error
	errFor   func(Command) error
}

func (r *recordingTransport) Run(_ context.Context, cmd Command) (Result, error) {
	r.commands = append(r.commands, cmd)
	if r.errFor != nil {
		return r.result, r.errFor(cmd)
	}
	return r.result, r.err
}

func (r *recordingTransport) WriteFile(_ context.Context, path string, _ []byte, _ fs.FileMode) error {
	r.writes = append(r.writes, path)
	return nil
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    Target
		wantErr bool
	}{
		{"empty is local", "", Target{Kind: TargetLocal}, false},
		{"local", "local", Target{Kind: TargetLocal}, false},
		{"isolated", "isolated:portal", Target{Kind: TargetIsolated, Instance: "portal"}, false},
		{"isolated without name", "isolated:", Target{}, true},
		{"ssh with port", "ssh://root@portal.example.org:2222", Target{Kind: TargetSSH, User: "root", Host: "portal.example.org", Port: 2222}, false},
		{"ssh default port", "ssh://deploy@portal.example.org", Target{Kind: TargetSSH, User: "deploy", Host: "portal.example.org", Port: 22}, false},
		{"unknown scheme", "docker:portal", Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

// Dry-run must never reach the transport and must append exactly one
// ledger entry per call, whatever the target or identity.
func TestDryRunNeverInvokesTransport(t *testing.T) {
	targets := []Target{
		{Kind: TargetLocal},
		{Kind: TargetIsolated, Instance: "portal"},
		{Kind: TargetSSH, User: "root", Host: "portal.example.org", Port: 22},
	}

	for _, target := range targets {
		t.Run(target.String(), func(t *testing.T) {
			ledger := NewLedger()
			ec := New(target, &failingTransport{t: t}, Options{DryRun: true, Ledger: ledger})

			res, err := ec.Run(context.Background(), Command{Argv: []string{"systemctl", "start", "nginx"}, AsUser: "deploy"})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ExitCode != 0 || res.Stdout != "" {
				t.Errorf("Run() = %+v, want synthetic success", res)
			}
			if ledger.Len() != 1 {
				t.Fatalf("ledger has %d entries, want 1", ledger.Len())
			}

			entry := ledger.Entries()[0]
			if entry.AsUser != "deploy" || entry.Target != target.String() {
				t.Errorf("ledger entry = %+v", entry)
			}

			if err := ec.WriteFile(context.Background(), "/etc/app/secret.env", []byte("KEY=value"), 0o600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if ledger.Len() != 2 {
				t.Fatalf("ledger has %d entries after write, want 2", ledger.Len())
			}
			if strings.Contains(ledger.Entries()[1].Command, "KEY=value") {
				t.Error("file contents leaked into the ledger")
			}
		})
	}
}

func TestRunForwardsToTransport(t *testing.T) {
	transport := &recordingTransport{result: Result{Stdout: "ok"}}
	ec := New(Target{Kind: TargetLocal}, transport, Options{})

	res, err := ec.Run(context.Background(), Command{Argv: []string{"true"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "ok" {
		t.Errorf("Run() stdout = %q", res.Stdout)
	}
	if len(transport.commands) != 1 {
		t.Fatalf("transport saw %d commands, want 1", len(transport.commands))
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	ec := New(Target{Kind: TargetLocal}, &recordingTransport{}, Options{})
	if _, err := ec.Run(context.Background(), Command{}); err == nil {
		t.Error("Run() with empty argv succeeded, want error")
	}
}

func TestCommandLineRedaction(t *testing.T) {
	cmd := Command{
		Argv:   []string{"createsuperuser", "--password", "hunter2"},
		Redact: []string{"hunter2"},
	}

	line := cmd.Line()
	if strings.Contains(line, "hunter2") {
		t.Errorf("secret visible in command line: %q", line)
	}
	if !strings.Contains(line, "********") {
		t.Errorf("redaction marker missing: %q", line)
	}
}

func TestLedgerEntriesAreACopy(t *testing.T) {
	ledger := NewLedger()
	ledger.Append(LedgerEntry{Command: "one"})

	entries := ledger.Entries()
	entries[0].Command = "mutated"

	if ledger.Entries()[0].Command != "one" {
		t.Error("ledger mutated through Entries() copy")
	}
}
