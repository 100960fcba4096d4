package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/owm-go/owm/internal/infrastructure/events"
	"github.com/owm-go/owm/internal/shared"
)

func TestLogManager_SetLevelNormalizesWhitespaceAndCase(t *testing.T) {
	manager := NewLogManagerWithDefaults()

	if err := manager.SetLevel("  WARNING  "); err != nil {
		t.Fatalf("expected SetLevel success, got %v", err)
	}
	if manager.GetLevel() != shared.LogLevelWarning {
		t.Fatalf("expected normalized level %q, got %q", shared.LogLevelWarning, manager.GetLevel())
	}
	if err := manager.SetLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLogManager_SetLevelNilReceiverReturnsError(t *testing.T) {
	var manager *LogManager
	err := manager.SetLevel("info")
	if err == nil || err.Error() != "log manager is required" {
		t.Fatalf("expected nil receiver error, got %v", err)
	}
}

func TestLogManager_HandlersRunInOrderAndRecoverPanics(t *testing.T) {
	manager := NewLogManager(shared.LogLevelDebug, 10)

	var got []string
	manager.AddHandler(func(entry LogEntry) {
		panic("intentional handler panic")
	})
	manager.AddHandler(func(entry LogEntry) {
		got = append(got, entry.Message)
	})

	manager.Info("first", nil)
	manager.Debug("second", nil)

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected synchronous ordered delivery, got %v", got)
	}
	if manager.Count() != 2 {
		t.Fatalf("expected two stored entries, got %d", manager.Count())
	}
}

func TestLogManager_LevelFilterAndRing(t *testing.T) {
	manager := NewLogManager(shared.LogLevelInfo, 3)
	manager.Debug("hidden", nil)
	for _, m := range []string{"a", "b", "c", "d"} {
		manager.Info(m, nil)
	}
	manager.Error("e", nil)

	msgs := manager.Messages()
	if strings.Join(msgs, ",") != "c,d,e" {
		t.Fatalf("expected ring to keep last three entries, got %v", msgs)
	}
	if errs := manager.GetEntriesByLevel(shared.LogLevelError, 10); len(errs) != 1 || errs[0].Message != "e" {
		t.Fatalf("unexpected error entries: %+v", errs)
	}
	if last := manager.GetEntries(1); len(last) != 1 || last[0].Message != "e" {
		t.Fatalf("unexpected tail: %+v", last)
	}
	manager.Clear()
	if manager.Count() != 0 {
		t.Fatal("expected empty manager after Clear")
	}
}

func TestLogManager_NilReceiverReadMethodsAreSafe(t *testing.T) {
	var manager *LogManager
	if entries := manager.GetEntries(10); len(entries) != 0 {
		t.Fatalf("expected no entries for nil manager, got %d", len(entries))
	}
	if count := manager.Count(); count != 0 {
		t.Fatalf("expected count 0 for nil manager, got %d", count)
	}
	manager.Clear()
	manager.Log(shared.LogLevelInfo, "noop", nil)
	manager.Logf(shared.LogLevelInfo, "noop %d", 1)
}

func TestLineFormats(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"epoch", EpochLine(0, 10, 4, 50, 97.125), "[Train]|Task [1/10]: Epoch [5/50], Accuracy: 97.125"},
		{"task", TaskLine(2, 10, 8, 50, 98.5), "Mat_number:[3/10], Epoch_number:[9/50],curr_acc:98.50 %"},
		{"overall", OverallLine(91.234), "All_acc:91.23 %"},
		{"time", TimeLine("00:01:02"), "Time 00:01:02"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestBridgeWritesProgressLines(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	var buf bytes.Buffer
	manager := NewLogManagerWithDefaults()
	manager.AddHandler(WriterHandler(&buf))
	Bridge(bus, manager)

	bus.EmitEpochCompleted("run", 0, 2, 0, 1, 50, true, false)
	bus.EmitTaskCompleted("run", 0, 1, 1, 2, 75.5, "exhausted")
	bus.EmitRunCompleted("run", 75.5, "00:00:01")

	want := strings.Join([]string{
		"[Train]|Task [1/1]: Epoch [1/2], Accuracy: 50.000",
		"Mat_number:[1/1], Epoch_number:[2/2],curr_acc:75.50 %",
		"All_acc:75.50 %",
		"Time 00:00:01",
	}, "\n") + "\n"
	if buf.String() != want {
		t.Fatalf("unexpected log output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestFileHandlerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "train.log")

	for i := 0; i < 2; i++ {
		h, err := OpenFile(path)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		manager := NewLogManagerWithDefaults()
		manager.AddHandler(h.Handle)
		manager.Info(OverallLine(float64(i)), nil)
		manager.Warning("careful", nil)
		if err := h.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		h.Handle(LogEntry{Message: "after close"})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "All_acc:0.00 %\n[warning] careful\nAll_acc:1.00 %\n[warning] careful\n"
	if string(data) != want {
		t.Fatalf("unexpected file content %q", string(data))
	}
}
