package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The defaults file and the built-in fallbacks must agree.
	empty := EmptyReadoutConfig()
	if cfg.GetLogLevel() != empty.GetLogLevel() {
		t.Errorf("GetLogLevel() = %q, want %q", cfg.GetLogLevel(), empty.GetLogLevel())
	}
	if cfg.GetExtractionSigma() != empty.GetExtractionSigma() {
		t.Errorf("GetExtractionSigma() = %f, want %f", cfg.GetExtractionSigma(), empty.GetExtractionSigma())
	}
	if cfg.GetNumPulses() != empty.GetNumPulses() {
		t.Errorf("GetNumPulses() = %d, want %d", cfg.GetNumPulses(), empty.GetNumPulses())
	}
	if cfg.GetMinValues() != empty.GetMinValues() {
		t.Errorf("GetMinValues() = %d, want %d", cfg.GetMinValues(), empty.GetMinValues())
	}
	if cfg.GetNormalize() != empty.GetNormalize() {
		t.Errorf("GetNormalize() = %v, want %v", cfg.GetNormalize(), empty.GetNormalize())
	}
	if cfg.GetHistogramBins() != empty.GetHistogramBins() {
		t.Errorf("GetHistogramBins() = %d, want %d", cfg.GetHistogramBins(), empty.GetHistogramBins())
	}
	if cfg.GetDistribution() != empty.GetDistribution() {
		t.Errorf("GetDistribution() = %q, want %q", cfg.GetDistribution(), empty.GetDistribution())
	}
	if cfg.GetFitTimeout() != empty.GetFitTimeout() {
		t.Errorf("GetFitTimeout() = %v, want %v", cfg.GetFitTimeout(), empty.GetFitTimeout())
	}
	if cfg.GetMaxIterations() != empty.GetMaxIterations() {
		t.Errorf("GetMaxIterations() = %d, want %d", cfg.GetMaxIterations(), empty.GetMaxIterations())
	}
	if cfg.GetFTol() != empty.GetFTol() || cfg.GetXTol() != empty.GetXTol() || cfg.GetGTol() != empty.GetGTol() {
		t.Errorf("tolerances = %g/%g/%g, want %g/%g/%g",
			cfg.GetFTol(), cfg.GetXTol(), cfg.GetGTol(), empty.GetFTol(), empty.GetXTol(), empty.GetGTol())
	}
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyReadoutConfig()

	if cfg.GetLogLevel() != "info" {
		t.Errorf("GetLogLevel() = %q, want info", cfg.GetLogLevel())
	}
	if cfg.GetExtractionSigma() != 10 {
		t.Errorf("GetExtractionSigma() = %f, want 10", cfg.GetExtractionSigma())
	}
	if cfg.GetNumPulses() != 2 {
		t.Errorf("GetNumPulses() = %d, want 2", cfg.GetNumPulses())
	}
	if cfg.GetMinValues() != 100 {
		t.Errorf("GetMinValues() = %d, want 100", cfg.GetMinValues())
	}
	if cfg.GetWorkers() != 0 {
		t.Errorf("GetWorkers() = %d, want 0", cfg.GetWorkers())
	}
	if cfg.GetDistribution() != "auto" {
		t.Errorf("GetDistribution() = %q, want auto", cfg.GetDistribution())
	}
	if cfg.GetFitTimeout() != 10*time.Second {
		t.Errorf("GetFitTimeout() = %v, want 10s", cfg.GetFitTimeout())
	}
}

func TestLoadReadoutConfigJSON(t *testing.T) {
	path := writeConfig(t, "readout.json", `{
  "log_level": "debug",
  "extraction_sigma": 3,
  "num_pulses": 3,
  "normalize": true,
  "fit_timeout": "2s"
}`)

	cfg, err := LoadReadoutConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetLogLevel() != "debug" {
		t.Errorf("GetLogLevel() = %q, want debug", cfg.GetLogLevel())
	}
	if cfg.GetExtractionSigma() != 3 {
		t.Errorf("GetExtractionSigma() = %f, want 3", cfg.GetExtractionSigma())
	}
	if cfg.GetNumPulses() != 3 {
		t.Errorf("GetNumPulses() = %d, want 3", cfg.GetNumPulses())
	}
	if !cfg.GetNormalize() {
		t.Error("GetNormalize() = false, want true")
	}
	if cfg.GetFitTimeout() != 2*time.Second {
		t.Errorf("GetFitTimeout() = %v, want 2s", cfg.GetFitTimeout())
	}
	// Omitted fields keep their defaults.
	if cfg.MinValues != nil || cfg.GetMinValues() != 100 {
		t.Errorf("MinValues = %v, want unset with default 100", cfg.MinValues)
	}
}

func TestLoadReadoutConfigYAML(t *testing.T) {
	path := writeConfig(t, "readout.yaml", `
min_values: 250
histogram_bins: 64
workers: 4
distribution: poissonian
max_iterations: 500
ftol: 1.0e-8
`)

	cfg, err := LoadReadoutConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetMinValues() != 250 {
		t.Errorf("GetMinValues() = %d, want 250", cfg.GetMinValues())
	}
	if cfg.GetHistogramBins() != 64 {
		t.Errorf("GetHistogramBins() = %d, want 64", cfg.GetHistogramBins())
	}
	if cfg.GetWorkers() != 4 {
		t.Errorf("GetWorkers() = %d, want 4", cfg.GetWorkers())
	}
	if cfg.GetDistribution() != "poissonian" {
		t.Errorf("GetDistribution() = %q, want poissonian", cfg.GetDistribution())
	}
	if cfg.GetMaxIterations() != 500 {
		t.Errorf("GetMaxIterations() = %d, want 500", cfg.GetMaxIterations())
	}
	if cfg.GetFTol() != 1e-8 {
		t.Errorf("GetFTol() = %g, want 1e-8", cfg.GetFTol())
	}
	if cfg.GetXTol() != 1e-10 {
		t.Errorf("GetXTol() = %g, want default 1e-10", cfg.GetXTol())
	}
}

func TestLoadReadoutConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "readout.toml", `a = 1`, "extension"},
		{"invalid JSON", "readout.json", `{"num_pulses": "two"`, "parse config JSON"},
		{"invalid YAML", "readout.yml", "num_pulses: [1, 2", "parse config YAML"},
		{"invalid value", "readout.json", `{"num_pulses": 0}`, "invalid configuration"},
		{"too large", "readout.json", `{"log_level": "` + strings.Repeat("x", maxFileSize) + `"}`, "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadReadoutConfig(writeConfig(t, tt.file, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadReadoutConfig() error = %v, want %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadReadoutConfig("/nonexistent/path/to/readout.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ReadoutConfig
		wantErr bool
	}{
		{"empty config is valid", &ReadoutConfig{}, false},
		{"valid values", &ReadoutConfig{LogLevel: ptrString("warn"), ExtractionSigma: ptrFloat64(2), FitTimeout: ptrString("500ms")}, false},
		{"unknown log level", &ReadoutConfig{LogLevel: ptrString("verbose")}, true},
		{"zero sigma", &ReadoutConfig{ExtractionSigma: ptrFloat64(0)}, true},
		{"zero pulses", &ReadoutConfig{NumPulses: ptrInt(0)}, true},
		{"zero min values", &ReadoutConfig{MinValues: ptrInt(0)}, true},
		{"negative histogram bins", &ReadoutConfig{HistogramBins: ptrInt(-1)}, true},
		{"negative workers", &ReadoutConfig{Workers: ptrInt(-2)}, true},
		{"gaussian distribution", &ReadoutConfig{Distribution: ptrString("gaussian")}, false},
		{"unknown distribution", &ReadoutConfig{Distribution: ptrString("binomial")}, true},
		{"invalid timeout", &ReadoutConfig{FitTimeout: ptrString("soon")}, true},
		{"negative timeout", &ReadoutConfig{FitTimeout: ptrString("-1s")}, true},
		{"zero iterations", &ReadoutConfig{MaxIterations: ptrInt(0)}, true},
		{"zero tolerance", &ReadoutConfig{GTol: ptrFloat64(0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetFitTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ReadoutConfig
		want time.Duration
	}{
		{"unset", &ReadoutConfig{}, 10 * time.Second},
		{"empty", &ReadoutConfig{FitTimeout: ptrString("")}, 10 * time.Second},
		{"2 minutes", &ReadoutConfig{FitTimeout: ptrString("2m")}, 2 * time.Minute},
		{"unparsable falls back", &ReadoutConfig{FitTimeout: ptrString("x")}, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetFitTimeout(); got != tt.want {
				t.Errorf("GetFitTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}
