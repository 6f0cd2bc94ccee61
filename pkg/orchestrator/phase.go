package orchestrator

import (
	"context"
	"fmt"
)

// Phase is one ordered step of the deployment sequence. The phase list
// is static; a single run selects a subsequence of it.
type Phase struct {
	// Number is the 1-indexed position in the sequence.
	Number int

	// Name is the short phase name used in reports and logs.
	Name string

	// Selectable reports whether the phase may be run on its own.
	Selectable bool

	// Precondition, when non-nil, runs before the action. Returning
	// skip=true marks the phase skipped with the given reason.
	Precondition func(ctx context.Context) (skip bool, reason string, err error)

	// Action performs the phase work.
	Action func(ctx context.Context) error

	// Verify, when non-nil, confirms the external system reached the
	// expected state after the action.
	Verify func(ctx context.Context) error
}

// SelectionMode chooses which phases of the table a run executes.
type SelectionMode int

const (
	// SelectAll runs every phase in order.
	SelectAll SelectionMode = iota

	// SelectOnly runs exactly one phase.
	SelectOnly

	// SelectSkipPrefix treats the prerequisites phase as already
	// satisfied, verifies its postconditions, then runs the rest.
	SelectSkipPrefix
)

// Selection is a run's phase selection.
type Selection struct {
	Mode SelectionMode

	// Phase is the single phase number for SelectOnly.
	Phase int
}

// All selects every phase.
func All() Selection {
	return Selection{Mode: SelectAll}
}

// Only selects exactly phase n.
func Only(n int) Selection {
	return Selection{Mode: SelectOnly, Phase: n}
}

// SkipPrefix selects everything after the prerequisites phase.
func SkipPrefix() Selection {
	return Selection{Mode: SelectSkipPrefix}
}

// String implements fmt.Stringer.
func (s Selection) String() string {
	switch s.Mode {
	case SelectOnly:
		return fmt.Sprintf("only(%d)", s.Phase)
	case SelectSkipPrefix:
		return "skip-prefix"
	default:
		return "all"
	}
}
