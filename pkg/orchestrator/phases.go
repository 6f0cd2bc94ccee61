package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/orcd/portalctl/pkg/config"
	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/netcheck"
	"github.com/orcd/portalctl/pkg/provision"
	"github.com/orcd/portalctl/pkg/telemetry"
)

// basePackages are the prerequisite OS packages phase 1 installs.
// nginx and fail2ban are gated by the document's sub-skip flags.
var basePackages = []string{"python3-venv", "python3-pip", "git"}

// appPackages are the OS-level build dependencies of the application.
var appPackages = []string{"build-essential", "python3-dev", "libldap2-dev", "libsasl2-dev"}

// Deps bundles everything the phase table needs. The target and the
// dry-run flag live inside the Runner; phases never bypass it.
type Deps struct {
	Settings config.Settings
	Runner   execctx.Runner
	Layout   provision.Layout

	Network    *netcheck.Verifier
	Packages   provision.PackageInstaller
	Certbot    provision.CertificateRequester
	Proxy      provision.ReverseProxyConfigurer
	Services   provision.ServiceManager
	Certs      *provision.CertificateVerifier
	Accounts   *provision.AccountProvisioner
	Migrations *provision.MigrationRunner
	Secrets    *provision.SecretsWriter

	Log *telemetry.Logger
}

// BuildPhases returns the fixed six-phase deployment sequence.
func BuildPhases(d Deps) []Phase {
	log := d.Log
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}

	return []Phase{
		{
			Number:     1,
			Name:       "prerequisites",
			Selectable: true,
			Action:     func(ctx context.Context) error { return runPrerequisites(ctx, d, log) },
			Verify:     func(ctx context.Context) error { return verifyPrerequisites(ctx, d) },
		},
		{
			Number:     2,
			Name:       "application install",
			Selectable: true,
			Action:     func(ctx context.Context) error { return installApplication(ctx, d) },
			Verify:     func(ctx context.Context) error { return verifyApplication(ctx, d) },
		},
		{
			Number:     3,
			Name:       "secret generation",
			Selectable: true,
			Action: func(ctx context.Context) error {
				if err := d.Secrets.Write(ctx, siteSecrets(d.Settings)); err != nil {
					return NewExecutionError("secret generation failed", err)
				}
				return nil
			},
		},
		{
			Number:     4,
			Name:       "reverse proxy",
			Selectable: true,
			Precondition: func(ctx context.Context) (bool, string, error) {
				if d.Settings.SkipNginx {
					return true, "skip_nginx is set", nil
				}
				return false, "", nil
			},
			Action: func(ctx context.Context) error {
				if err := d.Proxy.Configure(ctx, d.Settings.Domain, d.Layout.UpstreamSocket); err != nil {
					return NewExecutionError("reverse proxy configuration failed", err)
				}
				return nil
			},
			Verify: func(ctx context.Context) error { return verifyProxy(ctx, d) },
		},
		{
			Number:     5,
			Name:       "datastore init",
			Selectable: true,
			Action:     func(ctx context.Context) error { return initDatastore(ctx, d, log) },
		},
		{
			Number:     6,
			Name:       "service activation",
			Selectable: true,
			Action:     func(ctx context.Context) error { return activateService(ctx, d) },
			Verify: func(ctx context.Context) error {
				active, err := d.Services.IsActive(ctx, d.Layout.ServiceName)
				if err != nil {
					return NewVerificationError("failed to query service state", err)
				}
				if !active {
					return NewVerificationError(fmt.Sprintf("service %s is not active", d.Layout.ServiceName), nil).
						WithRemediation(fmt.Sprintf("journalctl -u %s -n 50", d.Layout.ServiceName))
				}
				return nil
			},
		},
	}
}

// runPrerequisites is phase 1: the pre-flight network identity check,
// base package installation, and certificate issuance.
func runPrerequisites(ctx context.Context, d Deps, log *telemetry.Logger) error {
	if d.Network != nil {
		result, err := d.Network.Verify(ctx)
		if err != nil {
			return NewNetworkIdentityError("pre-flight network identity check failed", err).
				WithRemediation(netRemediation(err))
		}
		for _, w := range result.Warnings {
			log.Warn(w)
		}
	}

	packages := append([]string{}, basePackages...)
	if !d.Settings.SkipNginx {
		packages = append(packages, "nginx", "certbot", "python3-certbot-nginx")
	}
	if !d.Settings.SkipFail2ban {
		packages = append(packages, "fail2ban")
	}
	if err := d.Packages.Install(ctx, packages); err != nil {
		return NewExecutionError("prerequisite package installation failed", err)
	}

	if !d.Settings.SkipNginx {
		if d.Runner.Target().Kind == execctx.TargetIsolated {
			// Issued certificates live inside the instance filesystem and
			// do not survive instance replacement.
			log.Warnf("certificates for %s are stored inside instance %q and will be lost if the instance is recreated",
				d.Settings.Domain, d.Runner.Target().Instance)
		}
		if err := d.Certbot.Request(ctx, d.Settings.Domain, d.Settings.Email, d.Settings.CertbotStaging); err != nil {
			return NewExecutionError("certificate request failed", err).
				WithRemediation(fmt.Sprintf("certbot --nginx -d %s -m %s", d.Settings.Domain, d.Settings.Email))
		}
	}

	if !d.Settings.SkipFail2ban {
		if err := d.Services.Enable(ctx, "fail2ban"); err != nil {
			return NewExecutionError("failed to enable fail2ban", err)
		}
		if err := d.Services.Start(ctx, "fail2ban"); err != nil {
			return NewExecutionError("failed to start fail2ban", err)
		}
	}

	return nil
}

// verifyPrerequisites confirms the reverse proxy is running and a usable
// certificate exists. It also gates SkipPrefix runs: when the prefix is
// assumed satisfied, these checks must hold before phase 2 is attempted.
func verifyPrerequisites(ctx context.Context, d Deps) error {
	if d.Settings.SkipNginx {
		return nil
	}

	active, err := d.Services.IsActive(ctx, "nginx")
	if err != nil {
		return NewVerificationError("failed to query reverse proxy state", err)
	}
	if !active {
		return NewVerificationError("reverse proxy is not running", nil).
			WithRemediation("systemctl start nginx")
	}

	check, err := d.Certs.Check(ctx, d.Settings.Domain)
	if err != nil {
		return NewVerificationError("certificate check failed", err)
	}
	if check.Status == provision.CertMissing || check.Status == provision.CertExpired {
		return NewVerificationError(fmt.Sprintf("certificate for %s is %s", d.Settings.Domain, check.Status), nil).
			WithRemediation(fmt.Sprintf("certbot --nginx -d %s -m %s", d.Settings.Domain, d.Settings.Email))
	}
	return nil
}

// installApplication is phase 2: OS build dependencies, the application
// user, the virtualenv and the application itself.
func installApplication(ctx context.Context, d Deps) error {
	if err := d.Packages.Install(ctx, appPackages); err != nil {
		return NewExecutionError("application dependency installation failed", err)
	}

	// A pre-existing user is expected on redeploys; useradd exits 9 in
	// that case and the provisioning continues. Any other failure is real.
	if _, err := d.Runner.Run(ctx, execctx.Command{
		Argv: []string{"useradd", "--system", "--create-home", "--home-dir", d.Layout.AppRoot, d.Layout.AppUser},
	}); err != nil && !userAlreadyExists(err) {
		return NewExecutionError("failed to create application user", err)
	}

	venv := path.Dir(path.Dir(d.Layout.ManagePath))
	steps := [][]string{
		{"python3", "-m", "venv", venv},
		{path.Join(venv, "bin", "pip"), "install", "--upgrade", "pip", "wheel"},
		{path.Join(venv, "bin", "pip"), "install", "coldfront"},
	}
	for _, argv := range steps {
		if _, err := d.Runner.Run(ctx, execctx.Command{
			Argv:    argv,
			AsUser:  d.Layout.AppUser,
			WorkDir: d.Layout.AppRoot,
		}); err != nil {
			return NewExecutionError("application install failed", err)
		}
	}
	return nil
}

// userAlreadyExists recognizes useradd's "user already exists" failure:
// exit code 9, with the name echoed on stderr by some builds.
func userAlreadyExists(err error) bool {
	var xe *execctx.ExitError
	if !errors.As(err, &xe) {
		return false
	}
	return xe.Result.ExitCode == 9 || strings.Contains(xe.Result.Stderr, "already exists")
}

// verifyApplication confirms the management command is present.
func verifyApplication(ctx context.Context, d Deps) error {
	if _, err := d.Runner.Run(ctx, execctx.Command{
		Argv: []string{"test", "-x", d.Layout.ManagePath},
	}); err != nil {
		return NewVerificationError(fmt.Sprintf("management command %s is missing", d.Layout.ManagePath), err).
			WithRemediation("re-run phase 2 (application install)")
	}
	return nil
}

func verifyProxy(ctx context.Context, d Deps) error {
	active, err := d.Services.IsActive(ctx, "nginx")
	if err != nil {
		return NewVerificationError("failed to query reverse proxy state", err)
	}
	if !active {
		return NewVerificationError("reverse proxy is not running after configuration", nil).
			WithRemediation("nginx -t && systemctl restart nginx")
	}
	return nil
}

// initDatastore is phase 5: the migration sequence, then the superuser
// account. A failed account fallback is surfaced, never swallowed.
func initDatastore(ctx context.Context, d Deps, log *telemetry.Logger) error {
	outcome, err := d.Migrations.Apply(ctx)
	if err != nil {
		return NewExecutionError("migration sequence failed", err)
	}
	log.Infof("migrations: %s", outcome)

	// The datastore itself is healthy at this point; a superuser that
	// could not be provisioned is a warning in the run report, not a
	// reason to stop short of service activation.
	su := d.Settings.Superuser
	accOutcome, err := d.Accounts.EnsureUser(ctx, su.Username, su.Email, su.Password)
	if err != nil {
		return NewExecutionWarning("superuser provisioning failed", err).
			WithRemediation(fmt.Sprintf("%s createsuperuser --username %s", d.Layout.ManagePath, su.Username))
	}
	log.Infof("superuser %s: %s", su.Username, accOutcome)
	return nil
}

// activateService is phase 6: enable and start the application service,
// then wait for it to report active within the bounded retry window.
func activateService(ctx context.Context, d Deps) error {
	name := d.Layout.ServiceName
	if err := d.Services.Enable(ctx, name); err != nil {
		return NewExecutionError("failed to enable application service", err)
	}
	if err := d.Services.Start(ctx, name); err != nil {
		return NewExecutionError("failed to start application service", err)
	}
	if err := d.Services.WaitActive(ctx, name); err != nil {
		return NewExecutionError("application service did not become active", err).
			WithRemediation(fmt.Sprintf("journalctl -u %s -n 50", name))
	}
	return nil
}

// siteSecrets maps the validated document onto the generated artifacts.
func siteSecrets(s config.Settings) provision.SiteSecrets {
	secrets := provision.SiteSecrets{
		Domain:           s.Domain,
		OIDCProvider:     s.OIDC.Provider,
		OIDCClientID:     s.OIDC.ClientID,
		OIDCClientSecret: s.OIDC.ClientSecret,
	}
	if s.OIDC.Provider != config.DefaultOIDCProvider {
		secrets.OIDCAuthorizationEndpoint = s.OIDC.AuthorizationEndpoint
		secrets.OIDCTokenEndpoint = s.OIDC.TokenEndpoint
		secrets.OIDCUserinfoEndpoint = s.OIDC.UserinfoEndpoint
		secrets.OIDCJWKSEndpoint = s.OIDC.JWKSEndpoint
	}
	return secrets
}

// netRemediation extracts the identity error's remediation text.
func netRemediation(err error) string {
	var ie *netcheck.IdentityError
	if errors.As(err, &ie) {
		return ie.Remediation
	}
	return ""
}
