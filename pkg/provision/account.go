package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/telemetry"
)

// AccountOutcome is the result of an idempotent account provisioning
// attempt.
type AccountOutcome int

const (
	// AccountCreated means the account did not exist and was created.
	AccountCreated AccountOutcome = iota

	// AccountAlreadyExists means the account already satisfied the
	// desired state; nothing was changed.
	AccountAlreadyExists
)

// String implements fmt.Stringer.
func (o AccountOutcome) String() string {
	switch o {
	case AccountCreated:
		return "created"
	case AccountAlreadyExists:
		return "already exists"
	default:
		return "unknown"
	}
}

// fallbackScript creates the account through the application shell. User
// data travels via environment variables, so no argv escaping applies.
const fallbackScript = `import os
from django.contrib.auth import get_user_model
User = get_user_model()
username = os.environ["PORTAL_SU_USERNAME"]
user, created = User.objects.get_or_create(username=username, defaults={
    "email": os.environ["PORTAL_SU_EMAIL"],
    "is_staff": True,
    "is_superuser": True,
})
if created:
    user.set_password(os.environ["PORTAL_SU_PASSWORD"])
    user.save()
    print("CREATED")
else:
    print("EXISTS")
`

// AccountProvisioner creates the portal superuser account idempotently.
type AccountProvisioner struct {
	runner execctx.Runner
	layout Layout
	log    *telemetry.Logger
}

// NewAccountProvisioner creates an account provisioner.
func NewAccountProvisioner(runner execctx.Runner, layout Layout, log *telemetry.Logger) *AccountProvisioner {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &AccountProvisioner{
		runner: runner,
		layout: layout,
		log:    log.NewComponentLogger("account"),
	}
}

// EnsureUser creates the account if absent. An existing account is
// reported as AccountAlreadyExists, never as an error. The primary
// attempt goes through the management command; when its output matches
// neither the "created" nor the "exists" signature, a quoting-free
// fallback through the application shell is tried. Both attempts failing
// is logged as an explicit warning and returned as an error.
func (p *AccountProvisioner) EnsureUser(ctx context.Context, username, email, password string) (AccountOutcome, error) {
	res, runErr := p.runner.Run(ctx, execctx.Command{
		Argv: []string{
			p.layout.ManagePath, "createsuperuser",
			"--noinput",
			"--username", username,
			"--email", email,
		},
		AsUser:  p.layout.AppUser,
		WorkDir: p.layout.AppRoot,
		Env:     map[string]string{"DJANGO_SUPERUSER_PASSWORD": password},
		Redact:  []string{password},
	})

	if p.runner.DryRun() {
		return AccountCreated, nil
	}

	output := res.Stdout + res.Stderr
	switch {
	case strings.Contains(output, "Superuser created successfully"):
		p.log.Infof("superuser %s created", username)
		return AccountCreated, nil
	case strings.Contains(output, "already taken") || strings.Contains(output, "already exists"):
		p.log.Infof("superuser %s already exists", username)
		return AccountAlreadyExists, nil
	}

	// Unrecognized output from either a success or a failure: retry
	// through the application shell, where user data travels in the
	// environment and no escaping rules apply.
	p.log.Debugf("createsuperuser output unrecognized, retrying via application shell")

	fres, ferr := p.runner.Run(ctx, execctx.Command{
		Argv:    []string{p.layout.ManagePath, "shell"},
		AsUser:  p.layout.AppUser,
		WorkDir: p.layout.AppRoot,
		Stdin:   fallbackScript,
		Env: map[string]string{
			"PORTAL_SU_USERNAME": username,
			"PORTAL_SU_EMAIL":    email,
			"PORTAL_SU_PASSWORD": password,
		},
		Redact: []string{password},
	})

	switch {
	case ferr == nil && strings.Contains(fres.Stdout, "CREATED"):
		p.log.Infof("superuser %s created via fallback", username)
		return AccountCreated, nil
	case ferr == nil && strings.Contains(fres.Stdout, "EXISTS"):
		p.log.Infof("superuser %s already exists", username)
		return AccountAlreadyExists, nil
	}

	p.log.Warnf("both superuser creation attempts failed for %s: primary=%v fallback=%v", username, runErr, ferr)
	err := ferr
	if err == nil {
		err = runErr
	}
	if err == nil {
		err = errors.New("unrecognized output from both attempts")
	}
	return AccountAlreadyExists, fmt.Errorf("failed to provision account %s: %w", username, err)
}
