package owm

import (
	"fmt"
	"sync"
)

// LedgerEntry is the final accuracy recorded for one task.
type LedgerEntry struct {
	Task     int     `json:"task"`
	Accuracy float64 `json:"accuracy"`
	Failed   bool    `json:"failed,omitempty"`
}

// AccuracyLedger is the append-only, task-ordered record of final accuracies.
type AccuracyLedger struct {
	mu      sync.RWMutex
	entries []LedgerEntry
}

// NewAccuracyLedger creates an empty ledger.
func NewAccuracyLedger() *AccuracyLedger {
	return &AccuracyLedger{entries: make([]LedgerEntry, 0)}
}

// Append records the next task. Tasks must arrive in order with no gaps.
func (l *AccuracyLedger) Append(entry LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Task != len(l.entries) {
		return fmt.Errorf("%w: got task %d, next is %d", ErrLedgerOrder, entry.Task, len(l.entries))
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Len returns the number of recorded tasks.
func (l *AccuracyLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the recorded entries.
func (l *AccuracyLedger) Entries() []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Accuracies returns the recorded accuracies in task order.
func (l *AccuracyLedger) Accuracies() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]float64, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Accuracy
	}
	return out
}

// Mean returns the average recorded accuracy, 0 for an empty ledger.
func (l *AccuracyLedger) Mean() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range l.entries {
		total += e.Accuracy
	}
	return total / float64(len(l.entries))
}

// Failures counts tasks that ended in a recoverable fault.
func (l *AccuracyLedger) Failures() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.entries {
		if e.Failed {
			n++
		}
	}
	return n
}
