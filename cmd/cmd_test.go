package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/inference-sim/regiongen/pinpoints"
	"github.com/inference-sim/regiongen/pinpoints/artifact"
	"github.com/inference-sim/regiongen/pinpoints/controller"
	"github.com/inference-sim/regiongen/pinpoints/dispatch"
	"github.com/inference-sim/regiongen/pinpoints/trace"
)

const twoRegionsCSV = `comment,thread-id,region-id,simulation-region-start-icount,simulation-region-end-icount,region-weight
cluster 0 from slice 4,0,1,400000,500000,0.6
cluster 1 from slice 1,0,2,100000,200000,0.4
`

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func runFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addInputFlags(fs)
	addDispatchFlags(fs)
	fs.Bool("dry-run", false, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func testConfig(t *testing.T) pinpoints.Config {
	t.Helper()
	dir := t.TempDir()
	return pinpoints.Config{
		WholeProgram: filepath.Join(dir, "whole_program.1", "bench"),
		Descriptor:   writeFile(t, filepath.Join(dir, "bench.csv"), twoRegionsCSV),
		ArtifactDir:  filepath.Join(dir, "bench.pp"),
		Dispatch:     pinpoints.DispatchConfig{Concurrency: ptr.To(2)},
		Tool:         pinpoints.ToolConfig{Path: "/usr/bin/replay"},
	}.WithDefaults()
}

// writeCapture stores a complete icount capture of r the way the replayer
// would name it.
func writeCapture(cfg pinpoints.Config, r pinpoints.Region) error {
	name := artifact.NameFor(cfg.Name(), r, pinpoints.EncodingICount, cfg.Segments)
	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return err
	}
	count := artifact.Expected(r, pinpoints.EncodingICount, cfg.Segments).Total()
	return artifact.WriteResult(filepath.Join(cfg.ArtifactDir, name.String()+".0.result"), count)
}

type captureRunner struct{ cfg pinpoints.Config }

func (c captureRunner) Run(_ context.Context, job dispatch.Job) error {
	return writeCapture(c.cfg, job.Region)
}

func TestReadConfigFile_UnknownKeyRejected(t *testing.T) {
	// GIVEN a config file with a misspelled key
	path := writeFile(t, filepath.Join(t.TempDir(), "run.yaml"), "whole_program: bench\nconcurency: 4\n")

	// WHEN it is read
	_, err := readConfigFile(path)

	// THEN strict decoding rejects it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurency")
}

func TestReadConfigFile_EmptyFileIsZeroConfig(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "run.yaml"), "")
	cfg, err := readConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, pinpoints.Config{}, cfg)
}

func TestLoadConfig_FlagsOverrideFileOnlyWhenSet(t *testing.T) {
	// GIVEN a config file and a command line that overrides part of it
	dir := t.TempDir()
	withConfigPath(t, writeFile(t, filepath.Join(dir, "run.yaml"), `
whole_program: whole_program.7/bench.7
descriptor: bench.csv
segments:
  warmup: 1000
dispatch:
  concurrency: 8
  drain_timeout: 90s
tool:
  path: /opt/pin/pin
`))
	fs := runFlags(t, "-j", "3", "--tool-arg", "-log:regions:in,{descriptor}", "--tool-arg", "-x")

	// WHEN the configuration is loaded
	cfg, err := loadConfig(fs)
	require.NoError(t, err)

	// THEN set flags win, file values survive and defaults are derived
	assert.Equal(t, 3, cfg.Concurrency())
	assert.Equal(t, int64(1000), cfg.Segments.Warmup)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.DrainTimeout)
	assert.Equal(t, []string{"-log:regions:in,{descriptor}", "-x"}, cfg.Tool.Args)
	assert.Equal(t, "/opt/pin/pin", cfg.Tool.Path)
	assert.Equal(t, "bench", cfg.Name())
	assert.Equal(t, "bench.pp", cfg.ArtifactDir)
	assert.Equal(t, "whole_program.7/bench.Data", cfg.WorkDir)
	assert.Equal(t, pinpoints.DefaultSlack, cfg.Slack())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	// GIVEN no config file and two REGIONGEN_ variables
	withConfigPath(t, "")
	t.Setenv("REGIONGEN_SLACK", "42")
	t.Setenv("REGIONGEN_RETRY_TOO_SHORT", "false")

	// WHEN the configuration is loaded
	cfg, err := loadConfig(runFlags(t, "--whole-program", "bench", "--descriptor", "bench.csv"))
	require.NoError(t, err)

	// THEN the environment is applied
	assert.Equal(t, int64(42), cfg.Slack())
	assert.False(t, cfg.RetryTooShort())
	assert.NoError(t, cfg.ValidateProbe())
	assert.ErrorContains(t, cfg.Validate(), "tool.path")
}

func TestRunValidate_DescribesDescriptor(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "bench.csv"), twoRegionsCSV)
	var out bytes.Buffer

	require.NoError(t, runValidate(path, &out))

	assert.Contains(t, out.String(), "encoding:   icount")
	assert.Contains(t, out.String(), "clusters:   2 (0 global)")
	assert.Contains(t, out.String(), "weights:    1.00000\n")
}

func TestRunValidate_NoClusters(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "empty.csv"),
		"comment,thread-id,region-id,simulation-region-start-icount,simulation-region-end-icount,region-weight\n")
	err := runValidate(path, &bytes.Buffer{})
	assert.ErrorIs(t, err, pinpoints.ErrNoClusters)
}

func TestRunProbe_ReportsMissingRegion(t *testing.T) {
	// GIVEN captures for region 1 only
	cfg := testConfig(t)
	require.NoError(t, captureRunner{cfg}.Run(context.Background(), dispatch.Job{
		Region: pinpoints.Region{ClusterID: 0, Row: pinpoints.Row{RegionID: 1, Weight: 0.6,
			Span: pinpoints.Span{StartICount: 400000, EndICount: 500000}}},
	}))
	var out bytes.Buffer

	// WHEN probed
	problems, err := runProbe(cfg, &out)

	// THEN region 2 is the one problem
	require.NoError(t, err)
	assert.Equal(t, 1, problems)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "ok")
	assert.Contains(t, lines[2], "missing")
}

func TestRunGeneration_ConvergesAndWritesOutputs(t *testing.T) {
	// GIVEN a runner that captures every region it is handed
	cfg := testConfig(t)
	cfg.MetricsFile = filepath.Join(t.TempDir(), "regiongen.prom")
	cfg.TraceFile = filepath.Join(t.TempDir(), "trace.yaml")
	var out bytes.Buffer

	// WHEN the run is executed
	report, err := runGeneration(context.Background(), cfg, captureRunner{cfg}, &out)

	// THEN it converges in one pass and writes every output
	require.NoError(t, err)
	assert.Equal(t, controller.OutcomeConverged, report.Outcome)
	assert.Empty(t, report.Unresolved)
	assert.NotContains(t, out.String(), "unresolved")

	var summary struct {
		Outcome      string            `json:"outcome"`
		ClusterCount int               `json:"cluster_count"`
		Trace        trace.RunSummary `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, "converged", summary.Outcome)
	assert.Equal(t, 2, summary.ClusterCount)
	assert.Equal(t, 1, summary.Trace.Passes)
	assert.Equal(t, 2, summary.Trace.JobsDispatched)

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "regiongen_jobs_started_total 2")

	rt, err := trace.Load(cfg.TraceFile)
	require.NoError(t, err)
	require.Len(t, rt.Passes, 1)
	assert.Equal(t, []int{1, 2}, rt.Passes[0].Dispatched)
}

func TestRunGeneration_DryRunListsJobsOnly(t *testing.T) {
	// GIVEN a dry run
	cfg := testConfig(t)
	cfg.Dispatch.DryRun = true
	cfg.Dispatch.Concurrency = ptr.To(1)
	var out bytes.Buffer

	// WHEN it is executed
	report, err := runGeneration(context.Background(), cfg, &dispatch.DryRunner{Out: &out}, &out)

	// THEN each region's command is printed and nothing else
	require.NoError(t, err)
	assert.Equal(t, controller.OutcomeListed, report.Outcome)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "/usr/bin/replay -replay"), line)
	}
	assert.NoDirExists(t, cfg.ArtifactDir)
	assert.NoFileExists(t, controller.CurrentDescriptorPath(cfg))
	assert.NoDirExists(t, dispatch.JobDir(cfg, 1))
}
