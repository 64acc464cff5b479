package singleshot

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/pulsefit/internal/binning"
	"github.com/banshee-data/pulsefit/internal/fit"
	"github.com/banshee-data/pulsefit/internal/monitoring"
	"github.com/banshee-data/pulsefit/internal/pulse"
)

var (
	// ErrNoData is returned for an empty count matrix.
	ErrNoData = errors.New("no readout data")
	// ErrNoPulses is returned when no laser pulse is found in the summed rows.
	ErrNoPulses = errors.New("no laser pulses found")
	// ErrTooFewRepetitions is returned when no binning holds enough values.
	ErrTooFewRepetitions = errors.New("too few repetitions for binning")
)

// Processor defaults.
const (
	DefaultNumPulses = 2
	DefaultSigma     = 10.0
	DefaultMinValues = 100
)

// ProcessorConfig configures a Processor. Zero fields take defaults.
type ProcessorConfig struct {
	// NumPulses is the number of laser pulses per repetition.
	NumPulses int
	// Sigma is the edge detection smoothing width in bins.
	Sigma float64
	// MinValues is the fewest values a binning may hold; it bounds the
	// largest rebinning width.
	MinValues int
	// Normalize selects the normalized contrast of the first two pulses
	// instead of the row total.
	Normalize bool
	// HistogramBins is the bin count per binning; 0 picks one bin per unit
	// of spread.
	HistogramBins int
	// Workers bounds concurrent threshold fits; 0 uses GOMAXPROCS.
	Workers int
	// Distribution is the population shape fitted to each histogram. Empty
	// picks Poissonian for raw counts and Gaussian when Normalize is set.
	Distribution Distribution
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.NumPulses <= 0 {
		c.NumPulses = DefaultNumPulses
	}
	if c.Sigma <= 0 {
		c.Sigma = DefaultSigma
	}
	if c.MinValues <= 0 {
		c.MinValues = DefaultMinValues
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Distribution == "" {
		c.Distribution = Poissonian
		if c.Normalize {
			c.Distribution = Gaussian
		}
	}
	return c
}

// Processor runs the single-shot analysis of a repetitions × bins count
// matrix.
type Processor struct {
	cfg       ProcessorConfig
	extractor *pulse.Extractor
	binner    *binning.Binner
	threshold *ThresholdEstimator
	log       monitoring.Logger
}

// NewProcessor creates a Processor. A nil engine uses the default model
// registry.
func NewProcessor(cfg ProcessorConfig, engine *fit.Engine, log monitoring.Logger) *Processor {
	log = monitoring.OrNop(log)
	cfg = cfg.withDefaults()
	return &Processor{
		cfg:       cfg,
		extractor: pulse.NewExtractor(cfg.Sigma, log),
		binner:    binning.NewBinner(log),
		threshold: NewThresholdEstimator(engine, log).WithDistribution(cfg.Distribution),
		log:       log,
	}
}

// Config returns the effective configuration.
func (p *Processor) Config() ProcessorConfig { return p.cfg }

// FindLaserWindows sums rows over repetitions and detects the laser pulse
// windows in the result.
func (p *Processor) FindLaserWindows(rows [][]int) []pulse.Window {
	if len(rows) == 0 {
		return nil
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	summed := make([]int, width)
	for _, r := range rows {
		for i, v := range r {
			summed[i] += v
		}
	}
	return p.extractor.FindWindows(summed, p.cfg.NumPulses)
}

// SumLaserPulses integrates every row over windows.
func (p *Processor) SumLaserPulses(rows [][]int, windows []pulse.Window) binning.Matrix {
	out := make(binning.Matrix, len(rows))
	for i, r := range rows {
		sums := make([]float64, len(windows))
		for j, w := range windows {
			sums[j] = float64(w.Sum(r))
		}
		out[i] = sums
	}
	return out
}

// BinningResult is the threshold analysis of one rebinning width.
type BinningResult struct {
	Width     int       `json:"width"`
	Values    int       `json:"values"`
	Edges     []float64 `json:"edges"`
	Counts    []float64 `json:"counts"`
	Threshold Threshold `json:"threshold"`
}

// Report is the outcome of Analyze.
type Report struct {
	RunID    string          `json:"run_id"`
	Windows  []pulse.Window  `json:"windows"`
	Binnings []BinningResult `json:"binnings"`
	// Best indexes the binning with the highest fidelity, or is -1 when
	// no binning could be fitted.
	Best int `json:"best"`
}

// BestBinning returns the binning with the highest fidelity.
func (r *Report) BestBinning() (BinningResult, bool) {
	if r.Best < 0 || r.Best >= len(r.Binnings) {
		return BinningResult{}, false
	}
	return r.Binnings[r.Best], true
}

// Analyze finds the laser pulses in rows, integrates them, computes every
// rebinning and runs the threshold estimator on the histogram of each.
func (p *Processor) Analyze(ctx context.Context, rows [][]int) (*Report, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	report := &Report{RunID: uuid.NewString(), Best: -1}
	p.log.Diagf("singleshot %s: %d repetitions", report.RunID, len(rows))

	report.Windows = p.FindLaserWindows(rows)
	if len(report.Windows) == 0 {
		return nil, fmt.Errorf("singleshot %s: %w", report.RunID, ErrNoPulses)
	}
	sums := p.SumLaserPulses(rows, report.Windows)

	bins := p.binner.CalcAllBinnings(sums, p.cfg.MinValues, p.cfg.Normalize)
	if len(bins) == 0 {
		return nil, fmt.Errorf("singleshot %s: %w: %d repetitions, %d values per binning",
			report.RunID, ErrTooFewRepetitions, len(rows), p.cfg.MinValues)
	}

	report.Binnings = make([]BinningResult, len(bins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, b := range bins {
		g.Go(func() error {
			edges, counts := binning.Histogram(b.Values, p.cfg.HistogramBins)
			report.Binnings[i] = BinningResult{
				Width:     b.Width,
				Values:    len(b.Values),
				Edges:     edges,
				Counts:    counts,
				Threshold: p.threshold.Estimate(gctx, edges, counts),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("singleshot %s: %w", report.RunID, err)
	}

	for i, b := range report.Binnings {
		if !b.Threshold.Fitted {
			continue
		}
		if report.Best < 0 || b.Threshold.Fidelity > report.Binnings[report.Best].Threshold.Fidelity {
			report.Best = i
		}
	}
	if best, ok := report.BestBinning(); ok {
		p.log.Diagf("singleshot %s: best width %d, threshold %g, fidelity %.4f",
			report.RunID, best.Width, best.Threshold.Threshold, best.Threshold.Fidelity)
	} else {
		p.log.Opsf("singleshot %s: no binning could be separated", report.RunID)
	}
	return report, nil
}
