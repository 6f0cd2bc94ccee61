// Package stores persists deployment run history in a local SQLite
// database so past runs can be listed and inspected after the fact.
package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orcd/portalctl/pkg/orchestrator"
)

// RunRecord is one persisted deployment run.
type RunRecord struct {
	ID          string
	Target      string
	Selection   string
	DryRun      bool
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time

	// Phases holds the per-phase results as JSON.
	Phases string

	// Warnings holds the run's non-fatal findings as JSON, empty when
	// there were none.
	Warnings string
}

// RecordFromReport converts a run report into its persisted form.
func RecordFromReport(report *orchestrator.RunReport) (*RunRecord, error) {
	phases, err := json.Marshal(report.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode phase results: %w", err)
	}

	record := &RunRecord{
		ID:          report.RunID,
		Target:      report.Target,
		Selection:   report.Selection,
		DryRun:      report.DryRun,
		Status:      string(report.Status),
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Phases:      string(phases),
	}

	if len(report.Warnings) > 0 {
		warnings, err := json.Marshal(report.Warnings)
		if err != nil {
			return nil, fmt.Errorf("failed to encode warnings: %w", err)
		}
		record.Warnings = string(warnings)
	}

	return record, nil
}

// PhaseResults decodes the persisted per-phase results.
func (r *RunRecord) PhaseResults() ([]orchestrator.PhaseResult, error) {
	var results []orchestrator.PhaseResult
	if err := json.Unmarshal([]byte(r.Phases), &results); err != nil {
		return nil, fmt.Errorf("failed to decode phase results: %w", err)
	}
	return results, nil
}
