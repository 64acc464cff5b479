package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pulsefit/internal/singleshot"
)

type readoutInput struct {
	// Rows is a repetitions × bins count matrix.
	Rows [][]int `json:"rows,omitempty"`
	// Trace is a sequence of per-shot values analyzed directly.
	Trace []float64 `json:"trace,omitempty"`
}

// distribution resolves the --distribution flag against the config. auto
// maps to the empty Distribution, which each analysis resolves itself.
func (a *app) distribution(flag string) (singleshot.Distribution, error) {
	if flag == "" {
		flag = a.cfg.GetDistribution()
	}
	if flag == "auto" {
		return "", nil
	}
	return singleshot.ParseDistribution(flag)
}

func newReadoutCmd(a *app) *cobra.Command {
	var (
		bins         int
		distribution string
		lifetime     bool
		dt           float64
	)
	cmd := &cobra.Command{
		Use:   "readout",
		Short: "Place the single-shot discrimination threshold and report fidelity",
		Long: `Reads {"rows": [[...], ...]}, a count matrix with one row per
repetition, finds the laser pulses, integrates them and analyzes every
rebinning. Alternatively {"trace": [...]} analyzes one value per shot
directly and adds the bright to dark flip statistics; with --lifetime it
instead fits the dwell times of the bright and dark states.

Raw counts assume Poisson populations and normalized values Gaussian ones
unless --distribution says otherwise. A trace defaults to Gaussian.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			var in readoutInput
			if err := a.readInput(cmd, &in); err != nil {
				return err
			}
			if bins <= 0 {
				bins = a.cfg.GetHistogramBins()
			}
			dist, err := a.distribution(distribution)
			if err != nil {
				return err
			}

			switch {
			case lifetime && in.Trace == nil:
				return errors.New("--lifetime needs a trace")
			case in.Rows != nil:
				p := singleshot.NewProcessor(singleshot.ProcessorConfig{
					NumPulses:     a.cfg.GetNumPulses(),
					Sigma:         a.cfg.GetExtractionSigma(),
					MinValues:     a.cfg.GetMinValues(),
					Normalize:     a.cfg.GetNormalize(),
					HistogramBins: bins,
					Workers:       a.cfg.GetWorkers(),
					Distribution:  dist,
				}, a.engine, a.log)
				report, err := p.Analyze(cmd.Context(), in.Rows)
				if err != nil {
					return err
				}
				return a.writeJSON(cmd, report)
			case in.Trace != nil:
				est := singleshot.NewThresholdEstimator(a.engine, a.log).WithDistribution(dist)
				if lifetime {
					return a.writeJSON(cmd, est.AnalyzeLifetime(cmd.Context(), in.Trace, dt, bins))
				}
				return a.writeJSON(cmd, est.AnalyzeTrace(cmd.Context(), in.Trace, bins))
			default:
				return errors.New("input needs rows or trace")
			}
		}),
	}
	cmd.Flags().IntVar(&bins, "bins", 0, "histogram bins (default from config, 0 derives them from the value spread)")
	cmd.Flags().StringVar(&distribution, "distribution", "", "population shape: auto, gaussian or poissonian (default from config)")
	cmd.Flags().BoolVar(&lifetime, "lifetime", false, "fit bright and dark dwell times of a trace")
	cmd.Flags().Float64Var(&dt, "dt", 1, "time per trace sample for --lifetime")
	return cmd
}
