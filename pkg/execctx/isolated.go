package execctx

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/orcd/portalctl/pkg/telemetry"
)

// IsolatedTransport runs commands inside a named incus/LXD instance via
// "incus exec" on the host.
type IsolatedTransport struct {
	instance string
	host     Transport
	log      *telemetry.Logger

	// checkedDirs caches working directories already verified to exist
	// inside the instance.
	checkedDirs map[string]bool
}

var _ Transport = (*IsolatedTransport)(nil)

// NewIsolatedTransport creates a transport for the named instance.
func NewIsolatedTransport(instance string, log *telemetry.Logger) *IsolatedTransport {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &IsolatedTransport{
		instance:    instance,
		host:        NewLocalTransport(),
		log:         log.NewComponentLogger("isolated").WithField("instance", instance),
		checkedDirs: make(map[string]bool),
	}
}

// Run executes a command inside the instance. A working directory that
// does not exist inside the instance logs a warning and falls back to "/"
// rather than aborting the command.
func (t *IsolatedTransport) Run(ctx context.Context, cmd Command) (Result, error) {
	argv := []string{"incus", "exec", t.instance}

	if cmd.WorkDir != "" {
		argv = append(argv, "--cwd", t.resolveWorkDir(ctx, cmd.WorkDir))
	}

	// Without an identity switch the environment goes on the incus
	// invocation itself. With one it must ride inside the sudo call:
	// sudoers env_reset strips anything set outside it.
	keys := envKeys(cmd.Env)
	if cmd.AsUser == "" {
		for _, k := range keys {
			argv = append(argv, "--env", k+"="+cmd.Env[k])
		}
	}
	argv = append(argv, "--")

	inner := cmd.Argv
	if cmd.AsUser != "" {
		prefix := []string{"sudo", "-u", cmd.AsUser, "--"}
		if len(keys) > 0 {
			prefix = append(prefix, "env")
			for _, k := range keys {
				prefix = append(prefix, k+"="+cmd.Env[k])
			}
		}
		inner = append(prefix, inner...)
	}
	argv = append(argv, inner...)

	return t.host.Run(ctx, Command{
		Argv:   argv,
		Stdin:  cmd.Stdin,
		Redact: cmd.Redact,
	})
}

// resolveWorkDir verifies the directory exists inside the instance. The
// host path an operator configures often does not exist in the instance,
// which used to break commands outright; now it only costs a warning.
func (t *IsolatedTransport) resolveWorkDir(ctx context.Context, dir string) string {
	if ok, seen := t.checkedDirs[dir]; seen {
		if ok {
			return dir
		}
		return "/"
	}

	_, err := t.host.Run(ctx, Command{
		Argv: []string{"incus", "exec", t.instance, "--", "test", "-d", dir},
	})
	t.checkedDirs[dir] = err == nil
	if err != nil {
		t.log.Warnf("working directory %s does not exist inside instance %s, falling back to /", dir, t.instance)
		return "/"
	}
	return dir
}

// WriteFile writes a file inside the instance by streaming the contents
// through stdin, so no host-side temporary file is needed.
func (t *IsolatedTransport) WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	script := fmt.Sprintf("umask 077 && cat > %s && chmod %04o %s", path, mode.Perm(), path)
	_, err := t.host.Run(ctx, Command{
		Argv:  []string{"incus", "exec", t.instance, "--", "sh", "-c", script},
		Stdin: string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s inside instance %s: %w", path, t.instance, err)
	}
	return nil
}
