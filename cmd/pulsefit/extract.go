package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pulsefit/internal/pulse"
)

// Extraction modes.
const (
	modeAuto      = "auto"
	modeThreshold = "threshold"
	modeExcise    = "excise"
)

type extractInput struct {
	Counts []int   `json:"counts,omitempty"`
	Gated  [][]int `json:"gated,omitempty"`
}

type extractOutput struct {
	Mode       string         `json:"mode"`
	Windows    []pulse.Window `json:"windows,omitempty"`
	Pulses     pulse.PulseSet `json:"pulses"`
	Signal     []float64      `json:"signal"`
	Normalized []float64      `json:"normalized,omitempty"`
}

type extractFlags struct {
	mode      string
	pulses    int
	normalize bool

	threshold int
	minLength int
	tolerance int

	length    int
	offset    int
	spacing   int
	increment int
}

func newExtractCmd(a *app) *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract laser pulses from a time trace and reduce them to signals",
		Long: `Reads {"counts": [...]} for an ungated trace or {"gated": [[...], ...]}
for gate rows, extracts the laser pulses and writes the pulses with one
summed signal per pulse.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			var in extractInput
			if err := a.readInput(cmd, &in); err != nil {
				return err
			}
			out, err := a.extract(in, f)
			if err != nil {
				return err
			}
			return a.writeJSON(cmd, out)
		}),
	}
	cmd.Flags().StringVar(&f.mode, "mode", modeAuto, "extraction mode: auto, threshold or excise")
	cmd.Flags().IntVar(&f.pulses, "pulses", 0, "pulses per trace (default from config)")
	cmd.Flags().BoolVar(&f.normalize, "normalize", false, "also report the normalized contrast of pulse pairs")
	cmd.Flags().IntVar(&f.threshold, "threshold", 1, "threshold mode: minimum counts of a pulse bin")
	cmd.Flags().IntVar(&f.minLength, "min-length", 1, "threshold mode: shortest pulse in bins")
	cmd.Flags().IntVar(&f.tolerance, "tolerance", 0, "threshold mode: sub-threshold bins bridged inside a pulse")
	cmd.Flags().IntVar(&f.length, "length", 0, "excise mode: pulse length in bins")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "excise mode: start of the first pulse")
	cmd.Flags().IntVar(&f.spacing, "spacing", 0, "excise mode: distance between the first two pulse starts")
	cmd.Flags().IntVar(&f.increment, "increment", 0, "excise mode: growth of each later spacing")
	return cmd
}

func (a *app) extract(in extractInput, f extractFlags) (*extractOutput, error) {
	if in.Counts == nil && in.Gated == nil {
		return nil, errors.New("input needs counts or gated")
	}
	if f.pulses <= 0 {
		f.pulses = a.cfg.GetNumPulses()
	}
	ex := pulse.NewExtractor(a.cfg.GetExtractionSigma(), a.log)
	out := &extractOutput{Mode: f.mode}

	switch f.mode {
	case modeAuto:
		trace := pulse.TimeTrace{Ungated: in.Counts, Gated: in.Gated}
		if !trace.IsGated() {
			out.Windows = ex.FindWindows(in.Counts, f.pulses)
		}
		out.Pulses = ex.Extract(trace, f.pulses)
	case modeThreshold:
		if in.Gated != nil {
			return nil, fmt.Errorf("%s mode needs an ungated trace", f.mode)
		}
		out.Pulses = ex.Threshold(in.Counts, f.threshold, f.minLength, f.tolerance)
	case modeExcise:
		if in.Gated != nil {
			return nil, fmt.Errorf("%s mode needs an ungated trace", f.mode)
		}
		out.Pulses = ex.Excise(in.Counts, f.pulses, f.length, f.offset, f.spacing, f.increment)
	default:
		return nil, fmt.Errorf("unknown extraction mode %q", f.mode)
	}

	red := pulse.NewReducer(a.log)
	out.Signal = red.Signal(out.Pulses)
	if f.normalize {
		norm, err := red.NormalizedSignal(out.Pulses)
		if err != nil {
			return nil, err
		}
		out.Normalized = norm
	}
	return out, nil
}
