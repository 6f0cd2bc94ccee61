package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/orcd/portalctl/pkg/execctx"
)

// Transport executes commands on a remote host over SSH. It implements
// execctx.Transport.
type Transport struct {
	client *Client
}

var _ execctx.Transport = (*Transport)(nil)

// NewTransport creates an SSH transport for the given configuration.
func NewTransport(cfg Config) (*Transport, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Transport{client: client}, nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.client.Close()
}

// Run executes a command remotely. Argv is quoted into a single remote
// command line; AsUser is honored via sudo on the remote side.
func (t *Transport) Run(ctx context.Context, cmd execctx.Command) (execctx.Result, error) {
	session, err := t.client.session()
	if err != nil {
		return execctx.Result{}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	line := buildRemoteLine(cmd)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	res := execctx.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			res.ExitCode = exitErr.ExitStatus()
			return res, &execctx.ExitError{Line: cmd.Line(), Result: res}
		}
		return res, fmt.Errorf("failed to execute %q: %w", cmd.Line(), runErr)
	}

	return res, nil
}

// WriteFile uploads a file over SFTP and applies the requested mode.
func (t *Transport) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	client, err := t.client.sftpClient()
	if err != nil {
		return err
	}
	defer client.Close()

	f, err := client.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := client.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return nil
}

// buildRemoteLine renders a Command as a single remote shell line:
// optional cd, optional sudo identity switch, env assignments, quoted
// argv. The env assignments come after sudo so sudoers env_reset cannot
// strip them before the target command runs.
func buildRemoteLine(cmd execctx.Command) string {
	var parts []string

	if cmd.AsUser != "" {
		parts = append(parts, "sudo", "-u", shellQuote(cmd.AsUser), "--")
	}

	if len(cmd.Env) > 0 {
		keys := make([]string, 0, len(cmd.Env))
		for k := range cmd.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts = append(parts, "env")
		for _, k := range keys {
			parts = append(parts, shellQuote(k+"="+cmd.Env[k]))
		}
	}

	for _, arg := range cmd.Argv {
		parts = append(parts, shellQuote(arg))
	}

	line := strings.Join(parts, " ")
	if cmd.WorkDir != "" {
		line = fmt.Sprintf("cd %s && %s", shellQuote(cmd.WorkDir), line)
	}
	return line
}

// shellQuote minimally quotes an argument for POSIX shells, using
// single-quoting with the standard `'\''` escape for embedded quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := func(r rune) bool {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return true
		}
		switch r {
		case '-', '_', '.', '/', '@', ':', ',', '+', '=':
			return true
		}
		return false
	}
	for _, r := range s {
		if !safe(r) {
			return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
		}
	}
	return s
}
