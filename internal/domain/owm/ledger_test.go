package owm

import (
	"errors"
	"testing"
)

func TestAccuracyLedgerAppendsInOrder(t *testing.T) {
	ledger := NewAccuracyLedger()

	for i, acc := range []float64{90, 80, 70} {
		if err := ledger.Append(LedgerEntry{Task: i, Accuracy: acc}); err != nil {
			t.Fatalf("append task %d: %v", i, err)
		}
	}

	if ledger.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", ledger.Len())
	}
	if ledger.Mean() != 80 {
		t.Errorf("expected mean 80, got %v", ledger.Mean())
	}
	got := ledger.Accuracies()
	if got[0] != 90 || got[2] != 70 {
		t.Errorf("accuracies out of order: %v", got)
	}
}

func TestAccuracyLedgerRejectsGapsAndRepeats(t *testing.T) {
	ledger := NewAccuracyLedger()
	_ = ledger.Append(LedgerEntry{Task: 0, Accuracy: 1})

	if err := ledger.Append(LedgerEntry{Task: 0, Accuracy: 2}); !errors.Is(err, ErrLedgerOrder) {
		t.Fatalf("repeat should fail with ErrLedgerOrder, got %v", err)
	}
	if err := ledger.Append(LedgerEntry{Task: 2, Accuracy: 2}); !errors.Is(err, ErrLedgerOrder) {
		t.Fatalf("gap should fail with ErrLedgerOrder, got %v", err)
	}
	if ledger.Len() != 1 {
		t.Fatalf("rejected entries must not be stored, got %d", ledger.Len())
	}
}

func TestAccuracyLedgerEntriesAreCopies(t *testing.T) {
	ledger := NewAccuracyLedger()
	_ = ledger.Append(LedgerEntry{Task: 0, Accuracy: 50, Failed: true})

	entries := ledger.Entries()
	entries[0].Accuracy = 0

	if ledger.Entries()[0].Accuracy != 50 {
		t.Fatal("Entries must not expose internal storage")
	}
	if ledger.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", ledger.Failures())
	}
	if NewAccuracyLedger().Mean() != 0 {
		t.Fatal("empty ledger mean should be 0")
	}
}
