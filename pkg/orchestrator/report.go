package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// PhaseOutcome is the terminal state of one phase in a run.
type PhaseOutcome string

const (
	// OutcomeSucceeded means the action and verification both passed.
	OutcomeSucceeded PhaseOutcome = "succeeded"

	// OutcomeSkipped means the phase was not selected or its
	// precondition reported already-satisfied state.
	OutcomeSkipped PhaseOutcome = "skipped"

	// OutcomeFailed means the action or verification failed.
	OutcomeFailed PhaseOutcome = "failed"
)

// PhaseResult records one phase's outcome within a run.
type PhaseResult struct {
	Number      int           `json:"number"`
	Name        string        `json:"name"`
	Outcome     PhaseOutcome  `json:"outcome"`
	Message     string        `json:"message,omitempty"`
	Remediation string        `json:"remediation,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// RunStatus is the terminal state of a whole run.
type RunStatus string

const (
	// RunCompleted means every selected phase succeeded.
	RunCompleted RunStatus = "completed"

	// RunFailed means a phase failed and the sequence halted.
	RunFailed RunStatus = "failed"
)

// RunReport aggregates the outcome of one invocation.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Target      string        `json:"target"`
	Selection   string        `json:"selection"`
	DryRun      bool          `json:"dry_run"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Status      RunStatus     `json:"status"`
	Results     []PhaseResult `json:"results"`

	// Warnings collects non-fatal findings surfaced during the run.
	Warnings []string `json:"warnings,omitempty"`
}

// Failed reports whether the run halted on a phase failure.
func (r *RunReport) Failed() bool {
	return r.Status == RunFailed
}

// FailedPhase returns the number of the phase that halted the run, or 0.
func (r *RunReport) FailedPhase() int {
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			return res.Number
		}
	}
	return 0
}

// Render writes the human-readable report.
func (r *RunReport) Render(w io.Writer) {
	fmt.Fprintf(w, "run %s  target=%s  selection=%s", r.RunID, r.Target, r.Selection)
	if r.DryRun {
		fmt.Fprint(w, "  (dry-run)")
	}
	fmt.Fprintln(w)

	for _, res := range r.Results {
		fmt.Fprintf(w, "  phase %d %-24s %s", res.Number, res.Name, res.Outcome)
		if res.Message != "" {
			fmt.Fprintf(w, "  %s", res.Message)
		}
		fmt.Fprintln(w)
		if res.Remediation != "" {
			fmt.Fprintf(w, "    remediation: %s\n", res.Remediation)
		}
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}

	fmt.Fprintf(w, "%s in %s\n", r.Status, r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

// RenderJSON writes the machine-readable report.
func (r *RunReport) RenderJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
