// Package execctx executes external commands on a deployment target. A
// target is the local host, a named isolated instance (incus/LXD), or a
// remote host over SSH. The dry-run flag is honored here, centrally: every
// provisioning command funnels through Context.Run, so a dry run can never
// leak a real invocation.
package execctx

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/orcd/portalctl/pkg/telemetry"
)

// TargetKind identifies the kind of execution target.
type TargetKind string

const (
	// TargetLocal runs commands directly on the current host.
	TargetLocal TargetKind = "local"

	// TargetIsolated runs commands inside a named isolated instance.
	TargetIsolated TargetKind = "isolated"

	// TargetSSH runs commands on a remote host over SSH.
	TargetSSH TargetKind = "ssh"
)

// Target identifies where commands run. Once chosen for a run the target
// is fixed; it is never switched mid-phase.
type Target struct {
	Kind     TargetKind
	Instance string // isolated instance name
	Host     string // ssh host
	Port     int    // ssh port
	User     string // ssh login user
}

// ParseTarget parses a target specification: "local",
// "isolated:<instance>" or "ssh://user@host[:port]".
func ParseTarget(spec string) (Target, error) {
	switch {
	case spec == "" || spec == "local":
		return Target{Kind: TargetLocal}, nil

	case strings.HasPrefix(spec, "isolated:"):
		instance := strings.TrimPrefix(spec, "isolated:")
		if instance == "" {
			return Target{}, fmt.Errorf("isolated target requires an instance name")
		}
		return Target{Kind: TargetIsolated, Instance: instance}, nil

	case strings.HasPrefix(spec, "ssh://"):
		rest := strings.TrimPrefix(spec, "ssh://")
		t := Target{Kind: TargetSSH, Port: 22}
		if i := strings.Index(rest, "@"); i >= 0 {
			t.User = rest[:i]
			rest = rest[i+1:]
		}
		if i := strings.Index(rest, ":"); i >= 0 {
			if _, err := fmt.Sscanf(rest[i+1:], "%d", &t.Port); err != nil {
				return Target{}, fmt.Errorf("invalid ssh port in target %q", spec)
			}
			rest = rest[:i]
		}
		if rest == "" {
			return Target{}, fmt.Errorf("ssh target requires a host")
		}
		t.Host = rest
		return t, nil

	default:
		return Target{}, fmt.Errorf("unrecognized target %q (want local, isolated:<instance> or ssh://user@host)", spec)
	}
}

// String renders the target specification.
func (t Target) String() string {
	switch t.Kind {
	case TargetIsolated:
		return "isolated:" + t.Instance
	case TargetSSH:
		if t.User != "" {
			return fmt.Sprintf("ssh://%s@%s:%d", t.User, t.Host, t.Port)
		}
		return fmt.Sprintf("ssh://%s:%d", t.Host, t.Port)
	default:
		return "local"
	}
}

// Command describes one external command invocation.
type Command struct {
	// Argv is the program and its arguments.
	Argv []string

	// AsUser runs the command under this OS identity instead of the
	// transport's default identity.
	AsUser string

	// Stdin is fed to the command's standard input.
	Stdin string

	// Env holds additional environment variables for the command.
	Env map[string]string

	// WorkDir is the working directory. Transports that cannot honor it
	// (stale directory inside an instance) warn and fall back rather
	// than abort.
	WorkDir string

	// Redact lists secret values that must never appear in logs or the
	// dry-run ledger.
	Redact []string
}

// Line renders the command line with secrets redacted.
func (c Command) Line() string {
	line := strings.Join(c.Argv, " ")
	for _, secret := range c.Redact {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "********")
		}
	}
	return line
}

// envKeys returns the command's environment keys in sorted order so every
// transport renders env assignments deterministically.
func envKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result holds the outcome of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError is returned when a command runs but exits non-zero. It carries
// the captured output so callers can recognize expected failures (such as
// "already exists") and treat them as success.
type ExitError struct {
	Line   string
	Result Result
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Line, e.Result.ExitCode)
	if s := strings.TrimSpace(e.Result.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Transport executes commands on a concrete target. Implementations exist
// for the local host, isolated instances, and SSH.
type Transport interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error
}

// Runner is the execution interface provisioners depend on.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error
	Target() Target
	DryRun() bool
}

// Options configures a Context.
type Options struct {
	DryRun  bool
	Ledger  *Ledger
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Context is the execution context for one deployment run. It wraps a
// transport with dry-run handling, logging and metrics.
type Context struct {
	target    Target
	transport Transport
	dryRun    bool
	ledger    *Ledger
	log       *telemetry.Logger
	metrics   *telemetry.Metrics
}

var _ Runner = (*Context)(nil)

// New constructs an execution context for the given target and transport.
func New(target Target, transport Transport, opts Options) *Context {
	log := opts.Logger
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = NewLedger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Context{
		target:    target,
		transport: transport,
		dryRun:    opts.DryRun,
		ledger:    ledger,
		log:       log.NewComponentLogger("execctx").WithTarget(target.String()),
		metrics:   metrics,
	}
}

// Target returns the execution target, fixed for the life of the context.
func (c *Context) Target() Target {
	return c.target
}

// DryRun reports whether the context is in dry-run mode.
func (c *Context) DryRun() bool {
	return c.dryRun
}

// Ledger returns the dry-run ledger.
func (c *Context) Ledger() *Ledger {
	return c.ledger
}

// Run executes a command on the target. In dry-run mode the fully resolved
// command line is appended to the ledger and a synthetic success is
// returned without invoking anything external.
func (c *Context) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}

	if c.dryRun {
		c.ledger.Append(LedgerEntry{
			Command: cmd.Line(),
			Target:  c.target.String(),
			AsUser:  cmd.AsUser,
		})
		c.metrics.RecordDryRunEntry()
		c.log.Debugf("dry-run: %s", cmd.Line())
		return Result{ExitCode: 0}, nil
	}

	c.log.Debugf("exec: %s", cmd.Line())
	res, err := c.transport.Run(ctx, cmd)
	if err != nil {
		c.metrics.RecordCommand(string(c.target.Kind), "error")
		return res, err
	}
	c.metrics.RecordCommand(string(c.target.Kind), "ok")
	return res, nil
}

// WriteFile writes a file on the target. In dry-run mode only the intent
// is recorded; file contents never reach the ledger.
func (c *Context) WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	if c.dryRun {
		c.ledger.Append(LedgerEntry{
			Command: fmt.Sprintf("write %s (%d bytes, mode %04o)", path, len(data), mode),
			Target:  c.target.String(),
		})
		c.metrics.RecordDryRunEntry()
		return nil
	}
	c.log.Debugf("write file %s (mode %04o)", path, mode)
	return c.transport.WriteFile(ctx, path, data, mode)
}
