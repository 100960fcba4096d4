package owm

import (
	"errors"
	"testing"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.ClassNum = 4
	cfg.Layers = []LayerConfig{
		{InputDim: 8, OutputDim: 6, Alpha: 1.0},
		{InputDim: 6, OutputDim: 4, Alpha: 0.5},
	}
	return cfg
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if err := smallConfig().Validate(); err != nil {
		t.Fatalf("small config should validate, got %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "zero alpha", mutate: func(c *Config) { c.Layers[0].Alpha = 0 }, want: ErrInvalidAlpha},
		{name: "negative alpha", mutate: func(c *Config) { c.Layers[1].Alpha = -1 }, want: ErrInvalidAlpha},
		{name: "zero epochs", mutate: func(c *Config) { c.NumEpochs = 0 }, want: ErrInvalidEpochs},
		{name: "immune swallows epochs", mutate: func(c *Config) { c.ImmuneDistance = c.NumEpochs }, want: ErrInvalidEpochs},
		{name: "extension unreachable", mutate: func(c *Config) { c.IterThreshold = 0 }, want: ErrUnreachableExtension},
		{name: "zero divisor", mutate: func(c *Config) { c.BatchDivisor = 0 }, want: ErrInvalidBatchSize},
		{name: "gpu device", mutate: func(c *Config) { c.Device = "cuda:1" }, want: ErrUnsupportedDevice},
		{name: "broken chain", mutate: func(c *Config) { c.Layers[1].InputDim = 7 }, want: ErrLayerShape},
		{name: "wrong class count", mutate: func(c *Config) { c.ClassNum = 5 }, want: ErrLayerShape},
		{name: "no layers", mutate: func(c *Config) { c.Layers = nil }, want: ErrLayerShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected a configuration error, got %v", err)
			}
		})
	}
}

func TestConfigExtensionDisabledIsAllowed(t *testing.T) {
	cfg := smallConfig()
	cfg.AddEpochs = 0
	cfg.IterThreshold = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabling extension should be valid, got %v", err)
	}
}

func TestConfigBatchSize(t *testing.T) {
	cfg := smallConfig()
	tests := []struct {
		n    int
		want int
	}{
		{n: 1000, want: 100},
		{n: 59, want: 5},
		{n: 9, want: 1},
		{n: 1, want: 1},
	}
	for _, tt := range tests {
		got, err := cfg.BatchSize(tt.n)
		if err != nil {
			t.Fatalf("BatchSize(%d) unexpected error: %v", tt.n, err)
		}
		if got != tt.want {
			t.Errorf("BatchSize(%d) = %d, expected %d", tt.n, got, tt.want)
		}
	}

	if _, err := cfg.BatchSize(0); !errors.Is(err, ErrInvalidBatchSize) {
		t.Fatalf("empty task should be rejected, got %v", err)
	}
}
