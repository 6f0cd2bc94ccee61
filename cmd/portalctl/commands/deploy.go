package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orcd/portalctl/pkg/config"
	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/netcheck"
	"github.com/orcd/portalctl/pkg/orchestrator"
	"github.com/orcd/portalctl/pkg/provision"
	"github.com/orcd/portalctl/pkg/stores"
	"github.com/orcd/portalctl/pkg/telemetry"
	sshx "github.com/orcd/portalctl/pkg/transports/ssh"
)

func newDeployCommand() *cobra.Command {
	var (
		targetSpec  string
		phase       int
		skipPrereqs bool
		dryRun      bool
		historyPath string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the deployment phase sequence",
		Long: `Run the six deployment phases against the target.

The whole sequence runs by default. --phase N runs exactly one phase for
iterative debugging; --skip-prereqs treats the prerequisites phase as
already satisfied but still verifies its postconditions (reverse proxy
running, valid certificate) before continuing.`,
		Example: `  # Full deployment on the local host
  portalctl deploy --config deploy.yaml

  # Dry-run against an isolated instance
  portalctl deploy --config deploy.yaml --target isolated:portal --dry-run

  # Re-run only the datastore phase on a remote host
  portalctl deploy --config deploy.yaml --target ssh://root@portal.example.org --phase 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if phase != 0 && skipPrereqs {
				return fmt.Errorf("--phase and --skip-prereqs are mutually exclusive")
			}
			sel := orchestrator.All()
			if phase != 0 {
				sel = orchestrator.Only(phase)
			} else if skipPrereqs {
				sel = orchestrator.SkipPrefix()
			}
			return runDeploy(cmd.Context(), cmd.OutOrStdout(), targetSpec, sel, dryRun, historyPath)
		},
	}

	cmd.Flags().StringVar(&targetSpec, "target", "local", "execution target: local, isolated:<instance> or ssh://user@host[:port]")
	cmd.Flags().IntVar(&phase, "phase", 0, "run exactly one phase (1-6)")
	cmd.Flags().BoolVar(&skipPrereqs, "skip-prereqs", false, "assume the prerequisites phase is satisfied; verify its postconditions only")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record intended actions without executing them")
	cmd.Flags().StringVar(&historyPath, "history", defaultHistoryPath(), "run history database path (empty to disable)")

	return cmd
}

func runDeploy(ctx context.Context, out io.Writer, targetSpec string, sel orchestrator.Selection, dryRun bool, historyPath string) error {
	log := buildLogger()
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "portalctl"})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ruleset := config.NewDeployRuleset()
	if violations := ruleset.Validate(cfg); len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "config: %s\n", v)
		}
		return fmt.Errorf("configuration has %d violation(s)", len(violations))
	}
	settings := config.BindSettings(cfg)

	target, err := execctx.ParseTarget(targetSpec)
	if err != nil {
		return err
	}

	transport, closeTransport, err := buildTransport(target, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	ledger := execctx.NewLedger()
	opts := execctx.Options{DryRun: dryRun, Ledger: ledger, Logger: log, Metrics: metrics}
	runner := execctx.New(target, transport, opts)

	// Translation rules always live on the machine running portalctl,
	// even when commands execute inside an isolated instance.
	host := execctx.Runner(runner)
	if target.Kind == execctx.TargetIsolated {
		host = execctx.New(execctx.Target{Kind: execctx.TargetLocal}, execctx.NewLocalTransport(), opts)
	}

	layout := provision.DefaultLayout()
	deps := orchestrator.Deps{
		Settings:   settings,
		Runner:     runner,
		Layout:     layout,
		Network:    netcheck.New(host, runner, log),
		Packages:   provision.NewAptInstaller(runner),
		Certbot:    provision.NewCertbotRequester(runner),
		Proxy:      provision.NewNginxConfigurer(runner, log),
		Services:   provision.NewSystemdManager(runner, log),
		Certs:      provision.NewCertificateVerifier(runner, layout.CertLiveDir, 0, log),
		Accounts:   provision.NewAccountProvisioner(runner, layout, log),
		Migrations: provision.NewMigrationRunner(runner, layout, log),
		Secrets:    provision.NewSecretsWriter(runner, layout, log),
		Log:        log,
	}

	orch := orchestrator.New(orchestrator.BuildPhases(deps), orchestrator.Options{
		Target:  target.String(),
		DryRun:  dryRun,
		Logger:  log,
		Metrics: metrics,
	})

	report, runErr := orch.Run(ctx, sel)

	if jsonOutput {
		if err := report.RenderJSON(out); err != nil {
			return err
		}
	} else {
		report.Render(out)
		if dryRun {
			fmt.Fprintf(out, "dry-run ledger (%d entries):\n", ledger.Len())
			for _, e := range ledger.Entries() {
				if e.AsUser != "" {
					fmt.Fprintf(out, "  [%s as %s] %s\n", e.Target, e.AsUser, e.Command)
					continue
				}
				fmt.Fprintf(out, "  [%s] %s\n", e.Target, e.Command)
			}
		}
	}

	if historyPath != "" {
		if err := saveHistory(ctx, historyPath, report); err != nil {
			log.WithError(err).Warn("failed to persist run history")
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "deployment failed at phase %d\n", report.FailedPhase())
		if rem := orchestrator.Remediation(runErr); rem != "" {
			fmt.Fprintf(os.Stderr, "remediation: %s\n", rem)
		}
		return runErr
	}
	return nil
}

// buildTransport constructs the transport for the chosen target. The
// returned closer is a no-op except for SSH connections.
func buildTransport(target execctx.Target, log *telemetry.Logger) (execctx.Transport, func(), error) {
	switch target.Kind {
	case execctx.TargetLocal:
		return execctx.NewLocalTransport(), func() {}, nil
	case execctx.TargetIsolated:
		return execctx.NewIsolatedTransport(target.Instance, log), func() {}, nil
	case execctx.TargetSSH:
		cfg := sshx.DefaultConfig()
		cfg.Host = target.Host
		cfg.User = target.User
		if target.Port != 0 {
			cfg.Port = target.Port
		}
		t, err := sshx.NewTransport(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up SSH transport: %w", err)
		}
		return t, func() { _ = t.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported target kind %q", target.Kind)
	}
}

// saveHistory persists a completed run, creating the database on first use.
func saveHistory(ctx context.Context, path string, report *orchestrator.RunReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	store, err := stores.NewHistoryStore(stores.Config{Path: path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	record, err := stores.RecordFromReport(report)
	if err != nil {
		return err
	}
	return store.SaveRun(ctx, record)
}
