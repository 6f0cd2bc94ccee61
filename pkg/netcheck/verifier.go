// Package netcheck verifies the execution target's network identity
// before any phase touches networking: the target's primary address must
// agree with the host's inbound address-translation rules for the two
// well-known service ports.
package netcheck

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/telemetry"
)

// The two inbound service ports the portal depends on.
const (
	PortHTTP  = 80
	PortHTTPS = 443
)

// IdentityError reports a mismatch between the target's address and the
// host's translation rules. It is fatal and carries the exact remediation
// the operator should apply.
type IdentityError struct {
	Port          int
	ActualAddress string
	RuleAddress   string // empty when no rule exists for the port
	Remediation   string
}

// Error implements the error interface.
func (e *IdentityError) Error() string {
	if e.RuleAddress == "" {
		return fmt.Sprintf("no address-translation rule for port %d (target address %s)", e.Port, e.ActualAddress)
	}
	return fmt.Sprintf("address-translation rule for port %d points at %s but the target's address is %s",
		e.Port, e.RuleAddress, e.ActualAddress)
}

// Result holds the outcome of a successful (or skipped) verification.
type Result struct {
	// Address is the target's primary address, empty when verification
	// was skipped.
	Address string

	// Warnings lists non-fatal conditions, such as unreadable rules.
	Warnings []string
}

// Verifier compares the target's address against the host firewall's
// DNAT rules. Rules are always read on the host, even when commands run
// inside an isolated instance.
type Verifier struct {
	host   execctx.Runner
	target execctx.Runner
	log    *telemetry.Logger
}

// New creates a verifier. host runs commands on the machine holding the
// firewall rules; target runs them on the execution target itself.
func New(host, target execctx.Runner, log *telemetry.Logger) *Verifier {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &Verifier{
		host:   host,
		target: target,
		log:    log.NewComponentLogger("netcheck"),
	}
}

// Verify checks both service ports. It returns an *IdentityError on a
// missing or mismatched rule; unreadable rules are reported as a warning,
// not a failure, because the check is a safety net rather than a
// requirement. In dry-run mode no state is read and the check is skipped.
func (v *Verifier) Verify(ctx context.Context) (*Result, error) {
	if v.target.DryRun() {
		v.log.Info("dry-run: skipping network identity verification")
		return &Result{Warnings: []string{"network identity verification skipped (dry-run)"}}, nil
	}

	addr, err := v.targetAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine target address: %w", err)
	}

	res, err := v.host.Run(ctx, execctx.Command{
		Argv: []string{"iptables", "-t", "nat", "-S", "PREROUTING"},
	})
	if err != nil {
		warning := fmt.Sprintf("cannot read address-translation rules (%v); skipping verification", err)
		v.log.Warn(warning)
		return &Result{Address: addr, Warnings: []string{warning}}, nil
	}

	rules := parseDNATRules(res.Stdout)
	for _, port := range []int{PortHTTP, PortHTTPS} {
		ruleAddr, ok := rules[port]
		if !ok {
			return nil, &IdentityError{
				Port:          port,
				ActualAddress: addr,
				Remediation: fmt.Sprintf(
					"add a rule: iptables -t nat -A PREROUTING -p tcp --dport %d -j DNAT --to-destination %s:%d",
					port, addr, port),
			}
		}
		if ruleAddr != addr {
			return nil, &IdentityError{
				Port:          port,
				ActualAddress: addr,
				RuleAddress:   ruleAddr,
				Remediation: fmt.Sprintf(
					"update the port %d rule to %s, or restart the target with address %s",
					port, addr, ruleAddr),
			}
		}
	}

	v.log.Infof("network identity verified: %s", addr)
	return &Result{Address: addr}, nil
}

// targetAddress determines the target's primary global IPv4 address.
func (v *Verifier) targetAddress(ctx context.Context) (string, error) {
	res, err := v.target.Run(ctx, execctx.Command{
		Argv: []string{"ip", "-4", "-o", "addr", "show", "scope", "global"},
	})
	if err != nil {
		return "", err
	}
	addr := parsePrimaryAddress(res.Stdout)
	if addr == "" {
		return "", fmt.Errorf("no global IPv4 address found on target")
	}
	return addr, nil
}

// parsePrimaryAddress extracts the first address from `ip -4 -o addr`
// output ("2: eth0    inet 10.0.3.5/24 brd ...").
func parsePrimaryAddress(output string) string {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "inet" && i+1 < len(fields) {
				addr := fields[i+1]
				if j := strings.Index(addr, "/"); j >= 0 {
					addr = addr[:j]
				}
				return addr
			}
		}
	}
	return ""
}

// parseDNATRules extracts destination addresses per port from
// `iptables -t nat -S PREROUTING` output.
func parseDNATRules(output string) map[int]string {
	rules := make(map[int]string)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)

		var port int
		var dest string
		for i := 0; i+1 < len(fields); i++ {
			switch fields[i] {
			case "--dport":
				if p, err := strconv.Atoi(fields[i+1]); err == nil {
					port = p
				}
			case "--to-destination":
				dest = fields[i+1]
				if j := strings.Index(dest, ":"); j >= 0 {
					dest = dest[:j]
				}
			}
		}
		if port != 0 && dest != "" {
			rules[port] = dest
		}
	}
	return rules
}
