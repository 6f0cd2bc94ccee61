package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orcd/portalctl/pkg/telemetry"
)

// Options configures an Orchestrator.
type Options struct {
	// Target is the execution target description for the report.
	Target string

	// DryRun is recorded in the report; the execution context enforces
	// the actual dry-run behavior.
	DryRun bool

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Orchestrator runs the phase table sequentially: one phase at a time,
// in order, halting on the first fatal error. The report and the ledger
// are the only mutable state and are owned exclusively by the run.
type Orchestrator struct {
	phases  []Phase
	target  string
	dryRun  bool
	log     *telemetry.Logger
	metrics *telemetry.Metrics

	now func() time.Time
}

// New creates an orchestrator over a static phase table.
func New(phases []Phase, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Orchestrator{
		phases:  phases,
		target:  opts.Target,
		dryRun:  opts.DryRun,
		log:     log.NewComponentLogger("orchestrator"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Run executes the selected phases and returns the aggregated report.
// The returned error is the fatal error that halted the run, if any;
// the report is always complete and renderable.
func (o *Orchestrator) Run(ctx context.Context, sel Selection) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Target:    o.target,
		Selection: sel.String(),
		DryRun:    o.dryRun,
		StartedAt: o.now(),
		Status:    RunCompleted,
	}

	runErr := o.validateSelection(sel)
	if runErr == nil {
		runErr = o.runPhases(ctx, sel, report)
	}

	report.CompletedAt = o.now()
	if runErr != nil {
		report.Status = RunFailed
	}
	o.metrics.RecordRun(report.CompletedAt.Sub(report.StartedAt))
	return report, runErr
}

func (o *Orchestrator) validateSelection(sel Selection) error {
	if sel.Mode != SelectOnly {
		return nil
	}
	for _, p := range o.phases {
		if p.Number == sel.Phase {
			if !p.Selectable {
				return NewConfigError(fmt.Sprintf("phase %d (%s) cannot be run on its own", p.Number, p.Name), nil)
			}
			return nil
		}
	}
	return NewConfigError(fmt.Sprintf("no phase numbered %d", sel.Phase), nil)
}

func (o *Orchestrator) runPhases(ctx context.Context, sel Selection, report *RunReport) error {
	halted := false
	var runErr error

	for _, phase := range o.phases {
		switch {
		case halted:
			report.Results = append(report.Results, PhaseResult{
				Number: phase.Number, Name: phase.Name,
				Outcome: OutcomeSkipped, Message: "not attempted: run halted",
			})

		case sel.Mode == SelectOnly && phase.Number != sel.Phase:
			report.Results = append(report.Results, PhaseResult{
				Number: phase.Number, Name: phase.Name,
				Outcome: OutcomeSkipped, Message: "not selected",
			})

		case sel.Mode == SelectSkipPrefix && phase.Number == 1:
			// The prefix is assumed satisfied, but its postconditions
			// still gate the rest of the run.
			res := o.verifySkipped(ctx, phase)
			report.Results = append(report.Results, res)
			if res.Outcome == OutcomeFailed {
				halted = true
				runErr = NewVerificationError(res.Message, nil).WithPhase(phase.Name)
			}

		default:
			res, warnings, err := o.runPhase(ctx, phase)
			report.Results = append(report.Results, res)
			report.Warnings = append(report.Warnings, warnings...)
			if err != nil {
				halted = true
				runErr = err
			}
		}
	}

	return runErr
}

// verifySkipped runs only the postcondition check of a skipped phase.
func (o *Orchestrator) verifySkipped(ctx context.Context, phase Phase) PhaseResult {
	res := PhaseResult{Number: phase.Number, Name: phase.Name, Outcome: OutcomeSkipped}
	if phase.Verify == nil {
		res.Message = "assumed satisfied"
		return res
	}

	start := o.now()
	err := phase.Verify(ctx)
	res.Duration = o.now().Sub(start)

	if err != nil {
		o.log.WithError(err).Errorf("phase %d (%s) skipped but its postconditions do not hold", phase.Number, phase.Name)
		res.Outcome = OutcomeFailed
		res.Message = err.Error()
		res.Remediation = Remediation(err)
		o.metrics.RecordPhase(phase.Name, string(OutcomeFailed), res.Duration)
		return res
	}

	res.Message = "postconditions verified"
	o.log.Infof("phase %d (%s) skipped, postconditions hold", phase.Number, phase.Name)
	return res
}

// runPhase executes one phase end to end: precondition, action,
// verification. Non-fatal errors are returned as warnings; a fatal error
// marks the phase failed and is returned to halt the sequence.
func (o *Orchestrator) runPhase(ctx context.Context, phase Phase) (PhaseResult, []string, error) {
	res := PhaseResult{Number: phase.Number, Name: phase.Name}
	var warnings []string
	log := o.log.WithPhase(phase.Number, phase.Name)

	start := o.now()
	defer func() {
		res.Duration = o.now().Sub(start)
		o.metrics.RecordPhase(phase.Name, string(res.Outcome), res.Duration)
	}()

	if phase.Precondition != nil {
		skip, reason, err := phase.Precondition(ctx)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Message = err.Error()
			res.Remediation = Remediation(err)
			return res, warnings, o.classify(err, phase)
		}
		if skip {
			log.Infof("skipping: %s", reason)
			res.Outcome = OutcomeSkipped
			res.Message = reason
			return res, warnings, nil
		}
	}

	log.Info("starting")
	if err := phase.Action(ctx); err != nil {
		if !IsFatal(err) {
			warnings = append(warnings, err.Error())
			log.WithError(err).Warn("non-fatal")
		} else {
			log.WithError(err).Error("failed")
			res.Outcome = OutcomeFailed
			res.Message = err.Error()
			res.Remediation = Remediation(err)
			return res, warnings, o.classify(err, phase)
		}
	}

	if phase.Verify != nil {
		if err := phase.Verify(ctx); err != nil {
			log.WithError(err).Error("verification failed")
			res.Outcome = OutcomeFailed
			res.Message = err.Error()
			res.Remediation = Remediation(err)
			return res, warnings, o.classify(err, phase)
		}
	}

	log.Info("succeeded")
	res.Outcome = OutcomeSucceeded
	return res, warnings, nil
}

// classify wraps untyped errors so the report always carries a class.
func (o *Orchestrator) classify(err error, phase Phase) error {
	var de *DeployError
	if errors.As(err, &de) {
		if de.Phase == "" {
			de.Phase = phase.Name
		}
		return de
	}
	return NewExecutionError("phase failed", err).WithPhase(phase.Name)
}
