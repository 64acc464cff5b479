package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulsefit/internal/fit"
	"github.com/banshee-data/pulsefit/internal/pulse"
	"github.com/banshee-data/pulsefit/internal/singleshot"
	"github.com/banshee-data/pulsefit/internal/testutil"
)

// run executes the root command with stdin and returns what it wrote to
// stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pulsefit dev"), out)
}

func TestModelsCommand(t *testing.T) {
	t.Parallel()

	out, err := run(t, "", "models", "--names")
	require.NoError(t, err)
	names := strings.Fields(out)
	assert.Len(t, names, 13)
	assert.Equal(t, "double_lorentzian_dip", names[0])
	assert.Equal(t, "sine_decay", names[12])

	out, err = run(t, "", "models")
	require.NoError(t, err)
	var infos []fit.ModelInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 13)
	assert.Equal(t, "gaussian", infos[3].Name)
	assert.Equal(t, []string{"amplitude", "center", "sigma", "offset", "fwhm"}, infos[3].Parameters)
}

func TestExtractCommand_Auto(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, "readout.yaml", "extraction_sigma: 3\nnum_pulses: 2\n")
	counts := testutil.PulseTrain(0, 20, 50, 30, 0, 20, 50, 30, 0, 20)

	out, err := run(t, mustJSON(t, map[string]any{"counts": counts}), "--config", cfg, "extract", "--normalize")
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	want := []pulse.Window{{Start: 20, Stop: 50}, {Start: 70, Stop: 100}}
	if diff := cmp.Diff(want, got.Windows); diff != "" {
		t.Errorf("windows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{1500, 1500}, got.Signal)
	assert.Equal(t, []float64{0}, got.Normalized)
	assert.Equal(t, modeAuto, got.Mode)
}

func TestExtractCommand_Gated(t *testing.T) {
	t.Parallel()

	gated := [][]int{
		testutil.PulseTrain(0, 10, 20, 10, 0, 10),
		testutil.PulseTrain(0, 10, 30, 10, 0, 10),
	}
	cfg := writeFile(t, "readout.json", `{"extraction_sigma": 2}`)
	out, err := run(t, mustJSON(t, map[string]any{"gated": gated}), "--config", cfg, "extract")
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Empty(t, got.Windows)
	assert.Equal(t, []float64{200, 300}, got.Signal)
}

func TestExtractCommand_Threshold(t *testing.T) {
	t.Parallel()

	in := mustJSON(t, map[string]any{"counts": []int{0, 5, 5, 0, 5, 0, 0, 0, 7, 7, 7}})
	out, err := run(t, in, "extract", "--mode", "threshold", "--threshold", "5", "--min-length", "2", "--tolerance", "1")
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, pulse.PulseSet{{5, 5, 0, 5}, {7, 7, 7, 7}}, got.Pulses)
	assert.Equal(t, []float64{15, 28}, got.Signal)
}

func TestExtractCommand_Excise(t *testing.T) {
	t.Parallel()

	in := mustJSON(t, map[string]any{"counts": []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}})
	out, err := run(t, in, "extract", "--mode", "excise", "--pulses", "2", "--length", "3", "--offset", "1", "--spacing", "5")
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, pulse.PulseSet{{2, 3, 4}, {7, 8, 9}}, got.Pulses)
	assert.Equal(t, []float64{9, 24}, got.Signal)
}

func TestExtractCommand_Errors(t *testing.T) {
	t.Parallel()

	counts := mustJSON(t, map[string]any{"counts": []int{1, 2, 3}})
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"unknown mode", counts, []string{"extract", "--mode", "magic"}, "unknown extraction mode"},
		{"no trace", `{}`, []string{"extract"}, "counts or gated"},
		{"gated threshold", `{"gated": [[1, 2]]}`, []string{"extract", "--mode", "threshold"}, "ungated"},
		{"unknown field", `{"count": [1]}`, []string{"extract"}, "parse input JSON"},
		{"odd pulses", counts, []string{"extract", "--mode", "excise", "--pulses", "1", "--length", "1", "--normalize"}, "odd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := run(t, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func gaussianInput(t *testing.T) string {
	x := testutil.Linspace(0, 100, 201)
	return mustJSON(t, fitInput{X: x, Data: testutil.Apply(x, testutil.Gaussian(500, 47, 6, 10))})
}

func TestFitCommand(t *testing.T) {
	t.Parallel()

	out, err := run(t, gaussianInput(t), "fit", "--model", "gaussian")
	require.NoError(t, err)

	var res fit.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.InDelta(t, 47, res.Params.Value("center"), 1e-6)
	assert.InDelta(t, 6, res.Params.Value("sigma"), 1e-6)
}

func TestFitCommand_OverridesAndEstimate(t *testing.T) {
	t.Parallel()

	x := testutil.Linspace(0, 100, 201)
	in := mustJSON(t, fitInput{
		X:         x,
		Data:      testutil.Apply(x, testutil.Gaussian(500, 47, 6, 10)),
		Overrides: []fit.Override{fit.FixAt("offset", 10)},
	})

	out, err := run(t, in, "fit", "-m", "gaussian", "--estimate")
	require.NoError(t, err)
	var ps fit.ParameterSet
	require.NoError(t, json.Unmarshal([]byte(out), &ps))
	p, ok := ps.Get("offset")
	require.True(t, ok)
	assert.Equal(t, 10.0, p.Value)
	assert.False(t, p.Vary)
}

func TestFitCommand_Errors(t *testing.T) {
	t.Parallel()

	_, err := run(t, gaussianInput(t), "fit", "--model", "nosuch")
	assert.ErrorIs(t, err, fit.ErrUnknownModel)

	_, err = run(t, `{"x": [1, 2], "data": [1]}`, "fit")
	assert.ErrorIs(t, err, fit.ErrAxisMismatch)

	cfg := writeFile(t, "readout.json", `{"max_iterations": 1}`)
	out, err := run(t, gaussianInput(t), "--config", cfg, "fit")
	require.Error(t, err)
	assert.True(t, fit.IsNotConverged(err))
	assert.Contains(t, out, `"state":"failed"`)
}

func TestFitCommand_InputFileAndMetrics(t *testing.T) {
	t.Parallel()

	input := writeFile(t, "series.json", gaussianInput(t))
	metrics := filepath.Join(t.TempDir(), "fit.prom")

	_, err := run(t, "", "--input", input, "--metrics-out", metrics, "--pretty", "fit")
	require.NoError(t, err)

	raw, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `pulsefit_fit_fits_total{model="gaussian",outcome="converged"} 1`)
	assert.Contains(t, string(raw), "pulsefit_fit_solve_seconds")

	_, err = run(t, "", "--input", input, "--metrics-out", "/etc/pulsefit/fit.prom", "fit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be within")
}

func TestFitCommand_MetricsWrittenOnFailure(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, "readout.json", `{"max_iterations": 1}`)
	metrics := filepath.Join(t.TempDir(), "fit.prom")

	_, err := run(t, gaussianInput(t), "--config", cfg, "--metrics-out", metrics, "fit")
	require.Error(t, err)
	assert.True(t, fit.IsNotConverged(err))

	raw, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `pulsefit_fit_fits_total{model="gaussian",outcome="failed"} 1`)
	assert.Contains(t, string(raw), `pulsefit_fit_retries_total{model="gaussian"} 1`)
}

func TestReadoutCommand_Trace(t *testing.T) {
	t.Parallel()

	rng := testutil.NewRand(5)
	trace := append(testutil.Normal(rng, 3000, 100, 10), testutil.Normal(rng, 3000, 200, 10)...)

	out, err := run(t, mustJSON(t, readoutInput{Trace: trace}), "readout", "--bins", "60")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, true, got["fitted"])
	assert.InDelta(t, 150, got["threshold"], 10)
	assert.Contains(t, got, "flips")
}

func TestReadoutCommand_Distribution(t *testing.T) {
	t.Parallel()

	rng := testutil.NewRand(6)
	trace := append(testutil.Poisson(rng, 3000, 60), testutil.Poisson(rng, 3000, 180)...)
	in := mustJSON(t, readoutInput{Trace: trace})

	out, err := run(t, in, "readout", "--distribution", "poissonian")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "poissonian", got["distribution"])
	assert.Equal(t, true, got["fitted"])

	cfg := writeFile(t, "readout.yaml", "distribution: poissonian\n")
	out, err = run(t, in, "--config", cfg, "readout")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "poissonian", got["distribution"])

	out, err = run(t, in, "readout", "--distribution", "auto")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "gaussian", got["distribution"])

	_, err = run(t, in, "readout", "--distribution", "binomial")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown distribution")
}

func TestReadoutCommand_Lifetime(t *testing.T) {
	t.Parallel()

	trace := testutil.Telegraph(testutil.NewRand(8), 30000, 200, 100, 10, 0.05, 0.1)
	out, err := run(t, mustJSON(t, readoutInput{Trace: trace}), "readout", "--lifetime", "--dt", "0.5")
	require.NoError(t, err)

	var got singleshot.LifetimeAnalysis
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.True(t, got.Bright.Fitted, got.Bright.Message)
	require.True(t, got.Dark.Fitted, got.Dark.Message)
	assert.InEpsilon(t, -0.5/math.Log(0.95), got.Bright.Lifetime, 0.25)
	assert.InEpsilon(t, -0.5/math.Log(0.9), got.Dark.Lifetime, 0.25)

	_, err = run(t, `{"rows": [[0, 1, 0]]}`, "readout", "--lifetime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a trace")
}

func TestReadoutCommand_Errors(t *testing.T) {
	t.Parallel()

	_, err := run(t, `{}`, "readout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows or trace")

	_, err = run(t, `{"rows": [[0, 0, 0]]}`, "readout")
	require.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := run(t, "", "--config", "/nonexistent/readout.json", "models")
	require.Error(t, err)

	bad := writeFile(t, "readout.json", `{"num_pulses": 0}`)
	_, err = run(t, "", "--config", bad, "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
