package provision

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/orcd/portalctl/pkg/execctx"
)

// selfSignedPEM issues a throwaway certificate expiring at notAfter.
func selfSignedPEM(t *testing.T, domain string, notAfter time.Time) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func certVerifier(runner *fakeRunner, now time.Time) *CertificateVerifier {
	v := NewCertificateVerifier(runner, "/etc/letsencrypt/live", 0, nil)
	v.now = func() time.Time { return now }
	return v
}

func TestCertificateCheckClassification(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		notAfter time.Time
		want     CertStatus
	}{
		{"valid for 60 days", now.Add(60 * 24 * time.Hour), CertValid},
		{"expiring in 12 hours", now.Add(12 * time.Hour), CertExpiringSoon},
		{"expired 1 minute ago", now.Add(-time.Minute), CertExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pemData := selfSignedPEM(t, "portal.example.org", tt.notAfter)
			runner := &fakeRunner{
				respond: func(cmd execctx.Command) (execctx.Result, error) {
					return execctx.Result{Stdout: pemData}, nil
				},
			}

			check, err := certVerifier(runner, now).Check(context.Background(), "portal.example.org")
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if check.Status != tt.want {
				t.Errorf("Status = %v, want %v", check.Status, tt.want)
			}
			if !check.NotAfter.Equal(tt.notAfter.Truncate(time.Second)) {
				t.Errorf("NotAfter = %v, want %v", check.NotAfter, tt.notAfter)
			}
		})
	}
}

func TestCertificateCheckMissing(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			return execctx.Result{}, &execctx.ExitError{Line: cmd.Line(), Result: execctx.Result{ExitCode: 1, Stderr: "No such file or directory"}}
		},
	}

	check, err := certVerifier(runner, time.Now()).Check(context.Background(), "portal.example.org")
	if err != nil {
		t.Fatalf("Check() error = %v, missing must not be an error", err)
	}
	if check.Status != CertMissing {
		t.Errorf("Status = %v, want missing", check.Status)
	}
}

func TestCertificateCheckReadsExpectedPath(t *testing.T) {
	pemData := selfSignedPEM(t, "portal.example.org", time.Now().Add(90*24*time.Hour))
	runner := &fakeRunner{
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			return execctx.Result{Stdout: pemData}, nil
		},
	}

	if _, err := certVerifier(runner, time.Now()).Check(context.Background(), "portal.example.org"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	want := "cat /etc/letsencrypt/live/portal.example.org/fullchain.pem"
	if got := runner.lines()[0]; got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestCertificateCheckGarbagePEM(t *testing.T) {
	runner := &fakeRunner{
		respond: func(cmd execctx.Command) (execctx.Result, error) {
			return execctx.Result{Stdout: "not a certificate"}, nil
		},
	}

	if _, err := certVerifier(runner, time.Now()).Check(context.Background(), "portal.example.org"); err == nil {
		t.Error("Check() succeeded on garbage PEM, want error")
	}
}

func TestCertificateCheckDryRun(t *testing.T) {
	runner := &fakeRunner{dryRun: true}

	check, err := certVerifier(runner, time.Now()).Check(context.Background(), "portal.example.org")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if check.Status != CertValid {
		t.Errorf("Status = %v, want assumed valid in dry-run", check.Status)
	}
}
