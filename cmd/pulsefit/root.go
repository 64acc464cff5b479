package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/pulsefit/internal/config"
	"github.com/banshee-data/pulsefit/internal/fit"
	"github.com/banshee-data/pulsefit/internal/monitoring"
	"github.com/banshee-data/pulsefit/internal/security"
	"github.com/banshee-data/pulsefit/internal/version"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string
	input      string
	metricsOut string
	pretty     bool

	cfg     *config.ReadoutConfig
	log     monitoring.Logger
	metrics *prometheus.Registry
	engine  *fit.Engine
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pulsefit <command>",
		Short:         "Pulse extraction, curve fitting and single-shot readout analysis",
		Version:       version.String(),
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "readout config file (.json, .yaml or .yml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringVarP(&a.input, "input", "i", "-", "input JSON file, - for stdin")
	root.PersistentFlags().StringVar(&a.metricsOut, "metrics-out", "", "write fit metrics in Prometheus text format to this file")
	root.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "indent JSON output")

	root.AddCommand(
		newModelsCmd(a),
		newExtractCmd(a),
		newFitCmd(a),
		newReadoutCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup() error {
	a.cfg = config.EmptyReadoutConfig()
	if a.configPath != "" {
		cfg, err := config.LoadReadoutConfig(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	level := a.cfg.GetLogLevel()
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.log = monitoring.NewZapLogger(level)

	a.metrics = prometheus.NewRegistry()
	a.engine = fit.NewEngine(fit.EngineConfig{
		Logger:  a.log,
		Metrics: fit.NewMetrics(a.metrics),
		Timeout: a.cfg.GetFitTimeout(),
		Solver: fit.SolverSettings{
			MaxIterations: a.cfg.GetMaxIterations(),
			FTol:          a.cfg.GetFTol(),
			XTol:          a.cfg.GetXTol(),
			GTol:          a.cfg.GetGTol(),
		},
	})
	return nil
}

// run wraps a subcommand so the logger is flushed and metrics are written
// whether or not the command succeeds.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if terr := a.teardown(); terr != nil {
			if err == nil {
				return terr
			}
			return errors.Join(err, terr)
		}
		return err
	}
}

func (a *app) teardown() error {
	if z, ok := a.log.(*monitoring.ZapLogger); ok {
		_ = z.Sync()
	}
	if a.metricsOut == "" || a.metrics == nil {
		return nil
	}
	if err := security.ValidateOutputPath(a.metricsOut); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(a.metricsOut, a.metrics); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// readInput decodes the --input file (or the command's stdin) into v.
func (a *app) readInput(cmd *cobra.Command, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if a.input != "" && a.input != "-" {
		f, err := os.Open(a.input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse input JSON: %w", err)
	}
	return nil
}

func (a *app) writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if a.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pulsefit %s\n", version.String())
			return err
		},
	}
}
