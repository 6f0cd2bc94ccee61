// Package provision implements the idempotent resource provisioners:
// superuser account creation, certificate presence and expiry checks, the
// schema migration sequence, and the exec-backed collaborators (packages,
// certificates, reverse proxy, services) the phases call into.
package provision

// Layout describes where the deployed portal lives on the target.
type Layout struct {
	// AppRoot is the application installation directory.
	AppRoot string

	// ManagePath is the portal management command inside the virtualenv.
	ManagePath string

	// AppUser is the unprivileged identity the portal runs as.
	AppUser string

	// EnvFile is the generated deployment environment file.
	EnvFile string

	// SettingsFile is the generated application settings file.
	SettingsFile string

	// CertLiveDir is the certificate authority client's live directory.
	CertLiveDir string

	// UpstreamSocket is the application server socket the reverse proxy
	// forwards to.
	UpstreamSocket string

	// ServiceName is the application systemd unit.
	ServiceName string
}

// DefaultLayout returns the standard portal layout.
func DefaultLayout() Layout {
	return Layout{
		AppRoot:        "/srv/coldfront",
		ManagePath:     "/srv/coldfront/venv/bin/coldfront",
		AppUser:        "coldfront",
		EnvFile:        "/srv/coldfront/deploy.env",
		SettingsFile:   "/srv/coldfront/local_settings.py",
		CertLiveDir:    "/etc/letsencrypt/live",
		UpstreamSocket: "/run/coldfront/gunicorn.sock",
		ServiceName:    "coldfront",
	}
}
