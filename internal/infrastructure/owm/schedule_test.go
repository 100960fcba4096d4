package owm

import (
	"math"
	"testing"

	domainOWM "github.com/owm-go/owm/internal/domain/owm"
)

func TestRatesAtMatchesCharacterSchedule(t *testing.T) {
	cfg := domainOWM.DefaultScheduleConfig()

	tests := []struct {
		lamda float64
		want  []float64
	}{
		{lamda: 0, want: []float64{2.0, 0.9, 0.8}},
		{lamda: 0.5, want: []float64{2.0, 0.9 * math.Sqrt(0.08), 0.8}},
		{lamda: 1, want: []float64{2.0, 0.9 * 0.08, 0.8}},
	}

	for _, tt := range tests {
		got := RatesAt(cfg, tt.lamda, 2).Triple()
		if len(got) != 3 {
			t.Fatalf("expected a triple, got %v", got)
		}
		for i := range got {
			if math.Abs(got[i]-tt.want[i]) > 1e-12 {
				t.Fatalf("lamda %v: got %v, expected %v", tt.lamda, got, tt.want)
			}
		}
	}
}

func TestRatesScaleDefaultsToOne(t *testing.T) {
	rates := RatesAt(domainOWM.DefaultScheduleConfig(), 0, 1)
	if rates.scale(0) != 0.9 {
		t.Fatalf("expected first layer scale 0.9, got %v", rates.scale(0))
	}
	if rates.scale(3) != 1 {
		t.Fatalf("unspecified layers should use scale 1, got %v", rates.scale(3))
	}
}
