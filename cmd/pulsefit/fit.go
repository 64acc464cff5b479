package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pulsefit/internal/fit"
)

type fitInput struct {
	X         []float64      `json:"x"`
	Y         []float64      `json:"y,omitempty"`
	Data      []float64      `json:"data"`
	Overrides []fit.Override `json:"overrides,omitempty"`
}

func newFitCmd(a *app) *cobra.Command {
	var (
		model        string
		estimateOnly bool
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a registered model to a data series",
		Long: `Reads {"x": [...], "data": [...]} (plus "y" for two-dimensional models
and optional parameter "overrides") and writes the fit result. A fit that
does not converge still writes its best-effort result and exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			var in fitInput
			if err := a.readInput(cmd, &in); err != nil {
				return err
			}
			axis := fit.Axis{X: in.X, Y: in.Y}

			if estimateOnly {
				ps, err := a.engine.Estimate(model, axis, in.Data)
				if err != nil {
					return err
				}
				return a.writeJSON(cmd, fit.Substitute(ps, in.Overrides, a.log))
			}

			res, err := a.engine.Fit(cmd.Context(), model, axis, in.Data, in.Overrides)
			var nc *fit.FitDidNotConverge
			if err != nil && !errors.As(err, &nc) {
				return err
			}
			if werr := a.writeJSON(cmd, res); werr != nil {
				return werr
			}
			if nc != nil {
				return nc
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&model, "model", "m", "gaussian", "model name, see the models command")
	cmd.Flags().BoolVar(&estimateOnly, "estimate", false, "write the initial parameter estimate without solving")
	return cmd
}
