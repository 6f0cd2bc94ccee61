package execctx

import "time"

// LedgerEntry records one command that would have run.
type LedgerEntry struct {
	// Command is the fully resolved, secret-redacted command line.
	Command string

	// Target is the execution target specification.
	Target string

	// AsUser is the identity the command would have run under, if any.
	AsUser string

	// At is when the entry was recorded.
	At time.Time
}

// Ledger is the append-only record of intended actions in dry-run mode.
// It is owned by a single run and never accessed concurrently.
type Ledger struct {
	entries []LedgerEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records an entry, stamping it with the current time.
func (l *Ledger) Append(e LedgerEntry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the recorded entries in order.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}
