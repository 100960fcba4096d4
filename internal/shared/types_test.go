package shared

import (
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{name: "zero", input: 0, expected: "00:00:00"},
		{name: "seconds", input: 42 * time.Second, expected: "00:00:42"},
		{name: "minutes", input: 3*time.Minute + 7*time.Second, expected: "00:03:07"},
		{name: "hours", input: 27*time.Hour + 59*time.Minute, expected: "27:59:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatElapsed(tt.input)
			if got != tt.expected {
				t.Fatalf("FormatElapsed(%v) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEventPayloadAccessors(t *testing.T) {
	event := Event{
		Type: EventEpochCompleted,
		Payload: map[string]interface{}{
			"task":     3,
			"accuracy": 97.5,
			"immune":   true,
			"phase":    "running",
		},
	}

	if event.Int("task") != 3 {
		t.Errorf("expected task 3, got %d", event.Int("task"))
	}
	if event.Float("accuracy") != 97.5 {
		t.Errorf("expected accuracy 97.5, got %v", event.Float("accuracy"))
	}
	if !event.Bool("immune") {
		t.Error("expected immune flag")
	}
	if event.String("phase") != "running" {
		t.Errorf("expected phase running, got %q", event.String("phase"))
	}
	if event.Int("missing") != 0 {
		t.Error("missing keys should read as zero")
	}
}

func TestClonePayloadIsDeep(t *testing.T) {
	source := map[string]interface{}{
		"accuracies": []float64{1, 2, 3},
		"nested":     map[string]interface{}{"k": []int{4}},
	}

	cloned := ClonePayload(source)
	cloned["accuracies"].([]float64)[0] = 99
	cloned["nested"].(map[string]interface{})["k"].([]int)[0] = 99

	if source["accuracies"].([]float64)[0] != 1 {
		t.Fatal("float slice was shared with the clone")
	}
	if source["nested"].(map[string]interface{})["k"].([]int)[0] != 4 {
		t.Fatal("nested map was shared with the clone")
	}
	if ClonePayload(nil) != nil {
		t.Fatal("nil payload should clone to nil")
	}
}
