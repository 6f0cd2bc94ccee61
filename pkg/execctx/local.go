package execctx

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
)

// LocalTransport runs commands directly on the current host.
type LocalTransport struct{}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport creates a transport for the local host.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

// buildLocalArgv renders the final argv for the host. Under an identity
// switch the environment rides inside the sudo invocation, past sudoers
// env_reset, which would otherwise strip variables set on the sudo
// process itself.
func buildLocalArgv(cmd Command) []string {
	if cmd.AsUser == "" {
		return cmd.Argv
	}
	argv := []string{"sudo", "-u", cmd.AsUser, "--"}
	if len(cmd.Env) > 0 {
		argv = append(argv, "env")
		for _, k := range envKeys(cmd.Env) {
			argv = append(argv, k+"="+cmd.Env[k])
		}
	}
	return append(argv, cmd.Argv...)
}

// Run executes a command under the current process identity, or under
// cmd.AsUser via sudo when specified.
func (t *LocalTransport) Run(ctx context.Context, cmd Command) (Result, error) {
	argv := buildLocalArgv(cmd)

	ec := exec.CommandContext(ctx, argv[0], argv[1:]...)

	if cmd.WorkDir != "" {
		ec.Dir = cmd.WorkDir
	}
	if cmd.Stdin != "" {
		ec.Stdin = strings.NewReader(cmd.Stdin)
	}
	if len(cmd.Env) > 0 && cmd.AsUser == "" {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, k+"="+v)
		}
		ec.Env = env
	}

	var stdout, stderr bytes.Buffer
	ec.Stdout = &stdout
	ec.Stderr = &stderr

	err := ec.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Line: cmd.Line(), Result: res}
		}
		return res, fmt.Errorf("failed to execute %q: %w", cmd.Line(), err)
	}

	return res, nil
}

// WriteFile writes a file on the local host with the given mode.
func (t *LocalTransport) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	// O_CREATE honors umask; enforce the requested mode explicitly.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return nil
}
