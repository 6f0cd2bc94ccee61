package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultOIDCProvider is the provider whose endpoints are well known and
// therefore need not be configured.
const DefaultOIDCProvider = "globus"

// MissingField describes one validation violation.
type MissingField struct {
	// Key is the document key, dotted for section fields
	// (e.g. "oidc.client_id").
	Key string

	// Reason explains why the field is in violation.
	Reason string
}

// String implements fmt.Stringer.
func (m MissingField) String() string {
	return m.Key + ": " + m.Reason
}

// Settings is the typed view of the deployment document. Validation tags
// cover the unconditionally required fields; the OIDC endpoint fields are
// conditionally required and checked by the ruleset.
type Settings struct {
	Domain         string `yaml:"domain" validate:"required"`
	Email          string `yaml:"email" validate:"required,email"`
	SkipNginx      bool   `yaml:"skip_nginx"`
	SkipFail2ban   bool   `yaml:"skip_f2b"`
	CertbotStaging bool   `yaml:"certbot_staging"`

	OIDC      OIDCSettings      `yaml:"oidc"`
	Superuser SuperuserSettings `yaml:"superuser"`
}

// OIDCSettings configures the portal's OIDC login.
type OIDCSettings struct {
	Provider     string `yaml:"provider" validate:"required"`
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`

	// Endpoint fields, required only for non-default providers.
	AuthorizationEndpoint string `yaml:"authorization_endpoint"`
	TokenEndpoint         string `yaml:"token_endpoint"`
	UserinfoEndpoint      string `yaml:"userinfo_endpoint"`
	JWKSEndpoint          string `yaml:"jwks_endpoint"`
}

// SuperuserSettings identifies the portal superuser account. The password
// is required so the account can be created non-interactively.
type SuperuserSettings struct {
	Username string `yaml:"username" validate:"required"`
	Email    string `yaml:"email" validate:"required,email"`
	Password string `yaml:"password" validate:"required"`
}

// Ruleset validates a Configuration for a particular invocation purpose.
type Ruleset interface {
	Validate(cfg *Configuration) []MissingField
}

// DeployRuleset is the full-deployment ruleset: domain, email, OIDC
// client credentials and the superuser fields are always required; the
// four OIDC endpoint fields only when the provider is not the default.
type DeployRuleset struct {
	validate *validator.Validate
}

// NewDeployRuleset constructs the deployment ruleset.
func NewDeployRuleset() *DeployRuleset {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report violations under the document's key names rather than Go
	// struct field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &DeployRuleset{validate: v}
}

// Validate binds the configuration to Settings and returns the complete
// list of violations in one pass. Callers never need to re-invoke after
// fixing a single field.
func (r *DeployRuleset) Validate(cfg *Configuration) []MissingField {
	settings, violations := bindSettings(cfg)

	if err := r.validate.Struct(settings); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				violations = append(violations, MissingField{
					Key:    documentKey(fe.Namespace()),
					Reason: tagReason(fe.Tag()),
				})
			}
		}
	}

	// Endpoint fields are required only for non-default providers. An
	// absent provider is already reported above and does not cascade
	// into four endpoint violations.
	if p := settings.OIDC.Provider; p != "" && p != DefaultOIDCProvider {
		reason := fmt.Sprintf("required when oidc.provider is %q", p)
		for key, val := range map[string]string{
			"oidc.authorization_endpoint": settings.OIDC.AuthorizationEndpoint,
			"oidc.token_endpoint":         settings.OIDC.TokenEndpoint,
			"oidc.userinfo_endpoint":      settings.OIDC.UserinfoEndpoint,
			"oidc.jwks_endpoint":          settings.OIDC.JWKSEndpoint,
		} {
			if val == "" {
				violations = append(violations, MissingField{Key: key, Reason: reason})
			}
		}
	}

	sortViolations(violations)
	return violations
}

// BindSettings returns the typed settings for a configuration that has
// already passed validation.
func BindSettings(cfg *Configuration) Settings {
	settings, _ := bindSettings(cfg)
	return settings
}

// bindSettings copies document values into the typed Settings. Malformed
// boolean values are reported as violations rather than aborting the pass.
func bindSettings(cfg *Configuration) (Settings, []MissingField) {
	var violations []MissingField

	getBool := func(key string) bool {
		b, err := cfg.GetBool(key)
		if err != nil {
			violations = append(violations, MissingField{
				Key:    key,
				Reason: `must be "true" or "false"`,
			})
		}
		return b
	}

	s := Settings{
		Domain:         cfg.GetDefault("domain", ""),
		Email:          cfg.GetDefault("email", ""),
		SkipNginx:      getBool("skip_nginx"),
		SkipFail2ban:   getBool("skip_f2b"),
		CertbotStaging: getBool("certbot_staging"),
		OIDC: OIDCSettings{
			Provider:              cfg.GetDefault("oidc.provider", ""),
			ClientID:              cfg.GetDefault("oidc.client_id", ""),
			ClientSecret:          cfg.GetDefault("oidc.client_secret", ""),
			AuthorizationEndpoint: cfg.GetDefault("oidc.authorization_endpoint", ""),
			TokenEndpoint:         cfg.GetDefault("oidc.token_endpoint", ""),
			UserinfoEndpoint:      cfg.GetDefault("oidc.userinfo_endpoint", ""),
			JWKSEndpoint:          cfg.GetDefault("oidc.jwks_endpoint", ""),
		},
		Superuser: SuperuserSettings{
			Username: cfg.GetDefault("superuser.username", ""),
			Email:    cfg.GetDefault("superuser.email", ""),
			Password: cfg.GetDefault("superuser.password", ""),
		},
	}

	return s, violations
}

// documentKey converts a validator namespace ("Settings.oidc.client_id")
// to a document key ("oidc.client_id").
func documentKey(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// tagReason renders a human-readable reason for a failed validation tag.
func tagReason(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "email":
		return "must be a valid email address"
	default:
		return "failed " + tag + " check"
	}
}

// sortViolations orders violations by key for deterministic reporting.
func sortViolations(violations []MissingField) {
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Key < violations[j].Key
	})
}
