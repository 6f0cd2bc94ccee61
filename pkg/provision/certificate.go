package provision

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"path"
	"time"

	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/telemetry"
)

// CertStatus classifies the state of a domain certificate.
type CertStatus int

const (
	// CertValid means the certificate exists and is not near expiry.
	CertValid CertStatus = iota

	// CertMissing means no certificate exists for the domain.
	CertMissing

	// CertExpiringSoon means the certificate expires within the
	// configured horizon.
	CertExpiringSoon

	// CertExpired means the certificate has already expired.
	CertExpired
)

// String implements fmt.Stringer.
func (s CertStatus) String() string {
	switch s {
	case CertValid:
		return "valid"
	case CertMissing:
		return "missing"
	case CertExpiringSoon:
		return "expiring soon"
	case CertExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// CertCheck is the result of a certificate verification.
type CertCheck struct {
	Status   CertStatus
	Domain   string
	NotAfter time.Time
	TimeLeft time.Duration
}

// DefaultExpiryHorizon is how close to expiry a certificate may be before
// it is classified as expiring soon.
const DefaultExpiryHorizon = 24 * time.Hour

// CertificateVerifier checks presence and expiry of domain certificates
// on the execution target.
type CertificateVerifier struct {
	runner  execctx.Runner
	liveDir string
	horizon time.Duration
	log     *telemetry.Logger

	now func() time.Time
}

// NewCertificateVerifier creates a verifier reading certificates from
// liveDir (the certificate authority client's live directory). A zero
// horizon selects DefaultExpiryHorizon.
func NewCertificateVerifier(runner execctx.Runner, liveDir string, horizon time.Duration, log *telemetry.Logger) *CertificateVerifier {
	if horizon == 0 {
		horizon = DefaultExpiryHorizon
	}
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &CertificateVerifier{
		runner:  runner,
		liveDir: liveDir,
		horizon: horizon,
		log:     log.NewComponentLogger("certcheck"),
		now:     time.Now,
	}
}

// Check reads the certificate for domain and classifies it. A missing
// certificate is CertMissing, never an error; the caller decides whether
// that is fatal for its phase.
func (v *CertificateVerifier) Check(ctx context.Context, domain string) (CertCheck, error) {
	check := CertCheck{Domain: domain}

	certPath := path.Join(v.liveDir, domain, "fullchain.pem")
	res, err := v.runner.Run(ctx, execctx.Command{
		Argv: []string{"cat", certPath},
	})

	if v.runner.DryRun() {
		check.Status = CertValid
		return check, nil
	}

	if err != nil {
		if _, ok := err.(*execctx.ExitError); ok {
			check.Status = CertMissing
			return check, nil
		}
		return check, fmt.Errorf("failed to read certificate for %s: %w", domain, err)
	}

	block, _ := pem.Decode([]byte(res.Stdout))
	if block == nil {
		return check, fmt.Errorf("certificate for %s is not valid PEM", domain)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return check, fmt.Errorf("failed to parse certificate for %s: %w", domain, err)
	}

	check.NotAfter = cert.NotAfter
	check.TimeLeft = cert.NotAfter.Sub(v.now())

	switch {
	case check.TimeLeft <= 0:
		check.Status = CertExpired
		v.log.Warnf("certificate for %s expired %s ago", domain, -check.TimeLeft)
	case check.TimeLeft <= v.horizon:
		check.Status = CertExpiringSoon
		v.log.Warnf("certificate for %s expires in %s", domain, check.TimeLeft)
	default:
		check.Status = CertValid
	}

	return check, nil
}
