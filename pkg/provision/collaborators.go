package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/telemetry"
)

// PackageInstaller installs OS packages. Installation must be idempotent:
// installing an already-present package is a no-op.
type PackageInstaller interface {
	Install(ctx context.Context, packages []string) error
}

// CertificateRequester obtains a certificate for a domain from the
// certificate authority. Requesting an existing valid certificate is a
// no-op.
type CertificateRequester interface {
	Request(ctx context.Context, domain, email string, staging bool) error
}

// ReverseProxyConfigurer installs the reverse-proxy site configuration
// and reloads the proxy.
type ReverseProxyConfigurer interface {
	Configure(ctx context.Context, domain, upstreamSocket string) error
}

// ServiceManager controls systemd services on the target.
type ServiceManager interface {
	Start(ctx context.Context, name string) error
	Enable(ctx context.Context, name string) error
	IsActive(ctx context.Context, name string) (bool, error)
	WaitActive(ctx context.Context, name string) error
}

// AptInstaller installs packages with apt, non-interactively.
type AptInstaller struct {
	runner execctx.Runner
}

// NewAptInstaller creates an apt-backed package installer.
func NewAptInstaller(runner execctx.Runner) *AptInstaller {
	return &AptInstaller{runner: runner}
}

// Install installs the listed packages in one apt invocation.
func (a *AptInstaller) Install(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	argv := append([]string{"apt-get", "install", "-y"}, packages...)
	if _, err := a.runner.Run(ctx, execctx.Command{
		Argv: argv,
		Env:  map[string]string{"DEBIAN_FRONTEND": "noninteractive"},
	}); err != nil {
		return fmt.Errorf("package installation failed: %w", err)
	}
	return nil
}

// CertbotRequester obtains certificates through the certbot client.
type CertbotRequester struct {
	runner execctx.Runner
}

// NewCertbotRequester creates a certbot-backed certificate requester.
func NewCertbotRequester(runner execctx.Runner) *CertbotRequester {
	return &CertbotRequester{runner: runner}
}

// Request obtains a certificate for domain. Certbot keeps existing valid
// certificates, so repeat invocations are safe.
func (c *CertbotRequester) Request(ctx context.Context, domain, email string, staging bool) error {
	argv := []string{
		"certbot", "--nginx",
		"-d", domain,
		"-m", email,
		"--agree-tos",
		"--non-interactive",
		"--keep-until-expiring",
	}
	if staging {
		argv = append(argv, "--staging")
	}
	if _, err := c.runner.Run(ctx, execctx.Command{Argv: argv}); err != nil {
		return fmt.Errorf("certificate request for %s failed: %w", domain, err)
	}
	return nil
}

// siteTemplate is the reverse-proxy site configuration. The proxy
// terminates TLS for the domain and forwards to the application socket.
const siteTemplate = `server {
    listen 443 ssl;
    server_name %[1]s;

    ssl_certificate /etc/letsencrypt/live/%[1]s/fullchain.pem;
    ssl_certificate_key /etc/letsencrypt/live/%[1]s/privkey.pem;

    location /static/ {
        alias /srv/coldfront/static/;
    }

    location / {
        proxy_pass http://unix:%[2]s;
        proxy_set_header Host $host;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_set_header X-Real-IP $remote_addr;
    }
}

server {
    listen 80;
    server_name %[1]s;
    return 301 https://$host$request_uri;
}
`

// NginxConfigurer writes the site configuration, enables it and reloads
// nginx after a syntax check.
type NginxConfigurer struct {
	runner execctx.Runner
	log    *telemetry.Logger
}

// NewNginxConfigurer creates an nginx-backed proxy configurer.
func NewNginxConfigurer(runner execctx.Runner, log *telemetry.Logger) *NginxConfigurer {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &NginxConfigurer{runner: runner, log: log.NewComponentLogger("nginx")}
}

// Configure installs and enables the site for domain, then reloads nginx.
// The reload only happens after the syntax check passes, so a bad render
// never takes the proxy down.
func (n *NginxConfigurer) Configure(ctx context.Context, domain, upstreamSocket string) error {
	available := "/etc/nginx/sites-available/" + domain + ".conf"
	enabled := "/etc/nginx/sites-enabled/" + domain + ".conf"

	site := fmt.Sprintf(siteTemplate, domain, upstreamSocket)
	if err := n.runner.WriteFile(ctx, available, []byte(site), 0o644); err != nil {
		return fmt.Errorf("failed to install site configuration: %w", err)
	}

	if _, err := n.runner.Run(ctx, execctx.Command{
		Argv: []string{"ln", "-sf", available, enabled},
	}); err != nil {
		return fmt.Errorf("failed to enable site: %w", err)
	}

	if _, err := n.runner.Run(ctx, execctx.Command{
		Argv: []string{"nginx", "-t"},
	}); err != nil {
		return fmt.Errorf("nginx configuration check failed: %w", err)
	}

	if _, err := n.runner.Run(ctx, execctx.Command{
		Argv: []string{"systemctl", "reload", "nginx"},
	}); err != nil {
		return fmt.Errorf("failed to reload nginx: %w", err)
	}

	n.log.Infof("reverse proxy configured for %s", domain)
	return nil
}

// SystemdManager controls services through systemctl.
type SystemdManager struct {
	runner execctx.Runner
	log    *telemetry.Logger

	// waitAttempts and waitDelay bound the post-start activation wait.
	waitAttempts int
	waitDelay    time.Duration
}

// NewSystemdManager creates a systemctl-backed service manager.
func NewSystemdManager(runner execctx.Runner, log *telemetry.Logger) *SystemdManager {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &SystemdManager{
		runner:       runner,
		log:          log.NewComponentLogger("service"),
		waitAttempts: 5,
		waitDelay:    2 * time.Second,
	}
}

// Start starts a service. Starting an active service is a no-op for
// systemd, so this is safe to repeat.
func (s *SystemdManager) Start(ctx context.Context, name string) error {
	if _, err := s.runner.Run(ctx, execctx.Command{
		Argv: []string{"systemctl", "start", name},
	}); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	return nil
}

// Enable enables a service at boot.
func (s *SystemdManager) Enable(ctx context.Context, name string) error {
	if _, err := s.runner.Run(ctx, execctx.Command{
		Argv: []string{"systemctl", "enable", name},
	}); err != nil {
		return fmt.Errorf("failed to enable %s: %w", name, err)
	}
	return nil
}

// IsActive reports whether a service is active. A non-zero exit means
// inactive, not an error.
func (s *SystemdManager) IsActive(ctx context.Context, name string) (bool, error) {
	res, err := s.runner.Run(ctx, execctx.Command{
		Argv: []string{"systemctl", "is-active", name},
	})
	if err != nil {
		if _, ok := err.(*execctx.ExitError); ok {
			return false, nil
		}
		return false, err
	}
	if s.runner.DryRun() {
		return true, nil
	}
	return strings.TrimSpace(res.Stdout) == "active", nil
}

// WaitActive polls until the service reports active, with a small fixed
// number of attempts and a linearly growing delay between them.
func (s *SystemdManager) WaitActive(ctx context.Context, name string) error {
	if s.runner.DryRun() {
		return nil
	}
	for attempt := 1; attempt <= s.waitAttempts; attempt++ {
		active, err := s.IsActive(ctx, name)
		if err != nil {
			return err
		}
		if active {
			return nil
		}
		if attempt == s.waitAttempts {
			break
		}
		delay := time.Duration(attempt) * s.waitDelay
		s.log.Debugf("service %s not active yet, retrying in %s (attempt %d/%d)", name, delay, attempt, s.waitAttempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("service %s did not become active after %d attempts", name, s.waitAttempts)
}
