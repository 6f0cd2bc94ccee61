package config

import (
	"errors"
	"testing"
)

const validDocument = `domain: portal.example.org
email: admin@example.org
skip_nginx: "false"
oidc:
  provider: globus
  client_id: abc123
  client_secret: s3cret
superuser:
  username: admin
  email: admin@example.org
  password: hunter2
`

func TestParseValidDocument(t *testing.T) {
	cfg, err := Parse("deploy.yaml", []byte(validDocument))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		key   string
		want  string
		found bool
	}{
		{"domain", "portal.example.org", true},
		{"email", "admin@example.org", true},
		{"oidc.provider", "globus", true},
		{"oidc.client_id", "abc123", true},
		{"superuser.password", "hunter2", true},
		{"missing", "", false},
		{"oidc.missing", "", false},
		{"missing_section.key", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, found := cfg.Get(tt.key)
			if got != tt.want || found != tt.found {
				t.Errorf("Get(%q) = (%q, %v), want (%q, %v)", tt.key, got, found, tt.want, tt.found)
			}
		})
	}
}

func TestParseRejectsDeepNesting(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "three levels",
			doc:  "oidc:\n  nested:\n    too: deep\n",
		},
		{
			name: "sequence value",
			doc:  "domains:\n  - one.example.org\n  - two.example.org\n",
		},
		{
			name: "sequence inside section",
			doc:  "oidc:\n  scopes:\n    - openid\n",
		},
		{
			name: "root is a sequence",
			doc:  "- a\n- b\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("deploy.yaml", []byte(tt.doc))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse() error = %v, want *ParseError", err)
			}
			if pe.Line == 0 {
				t.Errorf("ParseError has no line number: %v", pe)
			}
		})
	}
}

func TestParseRejectsDuplicateKeys(t *testing.T) {
	doc := "domain: a.example.org\ndomain: b.example.org\n"
	_, err := Parse("deploy.yaml", []byte(doc))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Parse() error = %v, want *ParseError", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/deploy.yaml")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestGetBool(t *testing.T) {
	cfg, err := Parse("deploy.yaml", []byte("a: \"true\"\nb: \"false\"\nc: banana\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		key     string
		want    bool
		wantErr bool
	}{
		{"a", true, false},
		{"b", false, false},
		{"c", false, true},
		{"absent", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cfg.GetBool(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetBool(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetBool(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestSectionIsACopy(t *testing.T) {
	cfg, err := Parse("deploy.yaml", []byte("oidc:\n  provider: globus\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	sec, ok := cfg.Section("oidc")
	if !ok {
		t.Fatal("Section(oidc) not found")
	}
	sec["provider"] = "mutated"

	if got, _ := cfg.Get("oidc.provider"); got != "globus" {
		t.Errorf("configuration mutated through Section() copy: %q", got)
	}
}
