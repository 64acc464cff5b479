package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical readout defaults file.
const DefaultConfigPath = "config/readout.defaults.json"

// maxFileSize caps config files at 1MB.
const maxFileSize = 1 * 1024 * 1024

// ReadoutConfig holds the tuning of pulse extraction, binning and fitting.
// Every field is optional; the Get* methods fall back to the built-in
// default for anything left unset, so partial files are safe.
type ReadoutConfig struct {
	LogLevel *string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// Extraction params
	ExtractionSigma *float64 `json:"extraction_sigma,omitempty" yaml:"extraction_sigma,omitempty"`
	NumPulses       *int     `json:"num_pulses,omitempty" yaml:"num_pulses,omitempty"`

	// Binning params
	MinValues     *int  `json:"min_values,omitempty" yaml:"min_values,omitempty"`
	Normalize     *bool `json:"normalize,omitempty" yaml:"normalize,omitempty"`
	HistogramBins *int  `json:"histogram_bins,omitempty" yaml:"histogram_bins,omitempty"`
	Workers       *int  `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Distribution of the bright and dark populations: auto, gaussian or poissonian.
	Distribution *string `json:"distribution,omitempty" yaml:"distribution,omitempty"`

	// Solver params
	FitTimeout    *string  `json:"fit_timeout,omitempty" yaml:"fit_timeout,omitempty"` // duration string like "10s"
	MaxIterations *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	FTol          *float64 `json:"ftol,omitempty" yaml:"ftol,omitempty"`
	XTol          *float64 `json:"xtol,omitempty" yaml:"xtol,omitempty"`
	GTol          *float64 `json:"gtol,omitempty" yaml:"gtol,omitempty"`
}

// Built-in defaults, mirrored by config/readout.defaults.json.
const (
	defaultLogLevel        = "info"
	defaultExtractionSigma = 10.0
	defaultNumPulses       = 2
	defaultMinValues       = 100
	defaultDistribution    = "auto"
	defaultFitTimeout      = 10 * time.Second
	defaultMaxIterations   = 2000
	defaultFTol            = 1e-10
	defaultXTol            = 1e-10
	defaultGTol            = 1e-12
)

var (
	validLogLevels     = []string{"debug", "info", "warn", "error"}
	validDistributions = []string{"auto", "gaussian", "poissonian"}
)

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}

// EmptyReadoutConfig returns a ReadoutConfig with all fields unset.
func EmptyReadoutConfig() *ReadoutConfig {
	return &ReadoutConfig{}
}

// LoadReadoutConfig loads a ReadoutConfig from a .json, .yaml or .yml file
// no larger than 1MB and validates it.
func LoadReadoutConfig(path string) (*ReadoutConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyReadoutConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents up to the repository root. It panics when the file
// cannot be found.
func MustLoadDefaultConfig() *ReadoutConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadReadoutConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the values that are set.
func (c *ReadoutConfig) Validate() error {
	if c.LogLevel != nil && !oneOf(*c.LogLevel, validLogLevels) {
		return fmt.Errorf("log_level must be one of %v, got %q", validLogLevels, *c.LogLevel)
	}

	if c.ExtractionSigma != nil && !(*c.ExtractionSigma > 0) {
		return fmt.Errorf("extraction_sigma must be positive, got %f", *c.ExtractionSigma)
	}
	if c.NumPulses != nil && *c.NumPulses < 1 {
		return fmt.Errorf("num_pulses must be at least 1, got %d", *c.NumPulses)
	}
	if c.MinValues != nil && *c.MinValues < 1 {
		return fmt.Errorf("min_values must be at least 1, got %d", *c.MinValues)
	}
	if c.HistogramBins != nil && *c.HistogramBins < 0 {
		return fmt.Errorf("histogram_bins must be non-negative, got %d", *c.HistogramBins)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Distribution != nil && !oneOf(*c.Distribution, validDistributions) {
		return fmt.Errorf("distribution must be one of %v, got %q", validDistributions, *c.Distribution)
	}

	if c.FitTimeout != nil && *c.FitTimeout != "" {
		d, err := time.ParseDuration(*c.FitTimeout)
		if err != nil {
			return fmt.Errorf("invalid fit_timeout '%s': %w", *c.FitTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("fit_timeout must be positive, got %s", d)
		}
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	for name, tol := range map[string]*float64{"ftol": c.FTol, "xtol": c.XTol, "gtol": c.GTol} {
		if tol != nil && !(*tol > 0) {
			return fmt.Errorf("%s must be positive, got %g", name, *tol)
		}
	}
	return nil
}

// GetLogLevel returns the log_level value or the default.
func (c *ReadoutConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return defaultLogLevel
	}
	return *c.LogLevel
}

// GetExtractionSigma returns the extraction_sigma value or the default.
func (c *ReadoutConfig) GetExtractionSigma() float64 {
	if c.ExtractionSigma == nil {
		return defaultExtractionSigma
	}
	return *c.ExtractionSigma
}

// GetNumPulses returns the num_pulses value or the default.
func (c *ReadoutConfig) GetNumPulses() int {
	if c.NumPulses == nil {
		return defaultNumPulses
	}
	return *c.NumPulses
}

// GetMinValues returns the min_values value or the default.
func (c *ReadoutConfig) GetMinValues() int {
	if c.MinValues == nil {
		return defaultMinValues
	}
	return *c.MinValues
}

// GetNormalize returns the normalize value or the default.
func (c *ReadoutConfig) GetNormalize() bool {
	if c.Normalize == nil {
		return false
	}
	return *c.Normalize
}

// GetHistogramBins returns the histogram_bins value; 0 derives the bin count
// from the spread of the values.
func (c *ReadoutConfig) GetHistogramBins() int {
	if c.HistogramBins == nil {
		return 0
	}
	return *c.HistogramBins
}

// GetWorkers returns the workers value; 0 means one per CPU.
func (c *ReadoutConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetDistribution returns the distribution value or the default. auto
// chooses poissonian for raw counts and gaussian for normalized values.
func (c *ReadoutConfig) GetDistribution() string {
	if c.Distribution == nil || *c.Distribution == "" {
		return defaultDistribution
	}
	return *c.Distribution
}

// GetFitTimeout parses and returns the FitTimeout as a time.Duration.
func (c *ReadoutConfig) GetFitTimeout() time.Duration {
	if c.FitTimeout == nil || *c.FitTimeout == "" {
		return defaultFitTimeout
	}
	d, err := time.ParseDuration(*c.FitTimeout)
	if err != nil || d <= 0 {
		return defaultFitTimeout
	}
	return d
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *ReadoutConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return defaultMaxIterations
	}
	return *c.MaxIterations
}

// GetFTol returns the ftol value or the default.
func (c *ReadoutConfig) GetFTol() float64 {
	if c.FTol == nil {
		return defaultFTol
	}
	return *c.FTol
}

// GetXTol returns the xtol value or the default.
func (c *ReadoutConfig) GetXTol() float64 {
	if c.XTol == nil {
		return defaultXTol
	}
	return *c.XTol
}

// GetGTol returns the gtol value or the default.
func (c *ReadoutConfig) GetGTol() float64 {
	if c.GTol == nil {
		return defaultGTol
	}
	return *c.GTol
}
