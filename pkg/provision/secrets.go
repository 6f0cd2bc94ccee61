package provision

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"text/template"

	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/telemetry"
)

// SiteSecrets carries everything the generated runtime configuration
// needs. SecretKey may be left empty; a fresh one is generated per
// deployment in that case.
type SiteSecrets struct {
	Domain    string
	SecretKey string

	OIDCProvider     string
	OIDCClientID     string
	OIDCClientSecret string

	// Generic-provider endpoints; empty for known providers.
	OIDCAuthorizationEndpoint string
	OIDCTokenEndpoint         string
	OIDCUserinfoEndpoint      string
	OIDCJWKSEndpoint          string

	// Extra lands verbatim in the environment file for site-specific
	// overrides.
	Extra map[string]string
}

// settingsTemplate is the generated application settings overlay.
const settingsTemplate = `# Generated by portalctl. Do not edit; changes are overwritten on deploy.
import os

ALLOWED_HOSTS = ["{{ .Domain }}"]
SECRET_KEY = os.environ["PORTAL_SECRET_KEY"]

CSRF_TRUSTED_ORIGINS = ["https://{{ .Domain }}"]
SECURE_PROXY_SSL_HEADER = ("HTTP_X_FORWARDED_PROTO", "https")

PLUGIN_AUTH_OIDC = True
OIDC_RP_CLIENT_ID = os.environ["PORTAL_OIDC_CLIENT_ID"]
OIDC_RP_CLIENT_SECRET = os.environ["PORTAL_OIDC_CLIENT_SECRET"]
{{- if .OIDCAuthorizationEndpoint }}
OIDC_OP_AUTHORIZATION_ENDPOINT = "{{ .OIDCAuthorizationEndpoint }}"
OIDC_OP_TOKEN_ENDPOINT = "{{ .OIDCTokenEndpoint }}"
OIDC_OP_USER_ENDPOINT = "{{ .OIDCUserinfoEndpoint }}"
OIDC_OP_JWKS_ENDPOINT = "{{ .OIDCJWKSEndpoint }}"
{{- end }}
`

// SecretsWriter renders the deployment environment file and the
// application settings overlay onto the target. Secret values travel
// only through file contents written at mode 0600 and are never logged.
type SecretsWriter struct {
	runner execctx.Runner
	layout Layout
	log    *telemetry.Logger
	tmpl   *template.Template
}

// NewSecretsWriter creates a secrets writer.
func NewSecretsWriter(runner execctx.Runner, layout Layout, log *telemetry.Logger) *SecretsWriter {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &SecretsWriter{
		runner: runner,
		layout: layout,
		log:    log.NewComponentLogger("secrets"),
		tmpl:   template.Must(template.New("settings").Parse(settingsTemplate)),
	}
}

// Write renders both generated files. A missing secret key is replaced
// with a freshly generated one, so repeat deployments rotate it unless
// the operator pins a value.
func (w *SecretsWriter) Write(ctx context.Context, secrets SiteSecrets) error {
	if secrets.SecretKey == "" {
		key, err := generateSecretKey()
		if err != nil {
			return fmt.Errorf("failed to generate secret key: %w", err)
		}
		secrets.SecretKey = key
		w.log.Debug("generated fresh secret key")
	}

	env := renderEnvFile(secrets)
	if err := w.runner.WriteFile(ctx, w.layout.EnvFile, []byte(env), 0o600); err != nil {
		return fmt.Errorf("failed to write environment file: %w", err)
	}

	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, secrets); err != nil {
		return fmt.Errorf("failed to render settings: %w", err)
	}
	if err := w.runner.WriteFile(ctx, w.layout.SettingsFile, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	w.log.Infof("wrote %s and %s", w.layout.EnvFile, w.layout.SettingsFile)
	return nil
}

// renderEnvFile produces the flat KEY=value environment file consumed by
// the application service unit. Keys are emitted in a stable order so
// repeat renders with identical inputs produce identical bytes.
func renderEnvFile(secrets SiteSecrets) string {
	values := map[string]string{
		"PORTAL_DOMAIN":             secrets.Domain,
		"PORTAL_SECRET_KEY":         secrets.SecretKey,
		"PORTAL_OIDC_PROVIDER":      secrets.OIDCProvider,
		"PORTAL_OIDC_CLIENT_ID":     secrets.OIDCClientID,
		"PORTAL_OIDC_CLIENT_SECRET": secrets.OIDCClientSecret,
	}
	for k, v := range secrets.Extra {
		values[k] = v
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("# Generated by portalctl. Do not edit; changes are overwritten on deploy.\n")
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, values[k])
	}
	return buf.String()
}

// generateSecretKey produces a 50-character URL-safe random key.
func generateSecretKey() (string, error) {
	raw := make([]byte, 38)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:50], nil
}
