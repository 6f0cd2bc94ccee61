package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/orcd/portalctl/pkg/execctx"
	"github.com/orcd/portalctl/pkg/telemetry"
)

// MigrateOutcome reports how many schema changes a migration pass applied.
type MigrateOutcome struct {
	// Applied is the number of migrations applied across both passes.
	Applied int
}

// NoOp reports whether the target was already fully migrated.
func (o MigrateOutcome) NoOp() bool {
	return o.Applied == 0
}

// String implements fmt.Stringer.
func (o MigrateOutcome) String() string {
	if o.NoOp() {
		return "no-op"
	}
	return fmt.Sprintf("applied %d", o.Applied)
}

// MigrationRunner applies the portal's schema migration sequence.
type MigrationRunner struct {
	runner execctx.Runner
	layout Layout
	log    *telemetry.Logger
}

// NewMigrationRunner creates a migration runner.
func NewMigrationRunner(runner execctx.Runner, layout Layout, log *telemetry.Logger) *MigrationRunner {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &MigrationRunner{
		runner: runner,
		layout: layout,
		log:    log.NewComponentLogger("migrate"),
	}
}

// Apply runs, in strict order: the base schema migration, the one-time
// reference-data load (idempotent, acknowledged non-interactively), a
// detection pass that generates any migrations the application's packaged
// set is missing, and a second apply pass to pick up what was just
// generated. The application's schema can lag its own code, so skipping
// the second pass is the most common source of missing-table failures;
// it always runs.
func (m *MigrationRunner) Apply(ctx context.Context) (MigrateOutcome, error) {
	var outcome MigrateOutcome

	first, err := m.manage(ctx, "", "migrate", "--noinput")
	if err != nil {
		return outcome, fmt.Errorf("base migration failed: %w", err)
	}
	outcome.Applied += countApplied(first.Stdout)

	// The reference-data load is safe to run twice; the acknowledgment
	// travels on stdin so no prompt is ever shown.
	if _, err := m.manage(ctx, "yes\n", "initial_setup"); err != nil {
		return outcome, fmt.Errorf("reference data load failed: %w", err)
	}

	if _, err := m.manage(ctx, "", "makemigrations", "--noinput"); err != nil {
		return outcome, fmt.Errorf("migration generation failed: %w", err)
	}

	second, err := m.manage(ctx, "", "migrate", "--noinput")
	if err != nil {
		return outcome, fmt.Errorf("second migration pass failed: %w", err)
	}
	outcome.Applied += countApplied(second.Stdout)

	if outcome.NoOp() {
		m.log.Info("schema already up to date")
	} else {
		m.log.Infof("applied %d migrations", outcome.Applied)
	}
	return outcome, nil
}

// manage runs a management command as the application user.
func (m *MigrationRunner) manage(ctx context.Context, stdin string, args ...string) (execctx.Result, error) {
	return m.runner.Run(ctx, execctx.Command{
		Argv:    append([]string{m.layout.ManagePath}, args...),
		AsUser:  m.layout.AppUser,
		WorkDir: m.layout.AppRoot,
		Stdin:   stdin,
	})
}

// countApplied counts migrations in `migrate` output; each applied
// migration prints an "Applying app.migration... OK" line.
func countApplied(output string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Applying ") {
			count++
		}
	}
	return count
}
