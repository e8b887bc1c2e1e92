package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"

	"github.com/inference-sim/regiongen/pinpoints"
)

// EnvPrefix prefixes environment overrides, e.g. REGIONGEN_CONCURRENCY.
const EnvPrefix = "REGIONGEN"

// addInputFlags registers the flags every subcommand needs to locate the
// descriptor and the captures.
func addInputFlags(fs *pflag.FlagSet) {
	fs.String("whole-program", "", "Whole-program pinball basename")
	fs.String("descriptor", "", "Regions CSV produced by clustering")
	fs.String("work-dir", "", "Data directory for descriptors and iteration archives (default <whole-program>.Data)")
	fs.String("artifact-dir", "", "Directory receiving region pinballs (default <name>.pp)")
	fs.Int64("warmup", 0, "Warmup instructions requested per region")
	fs.Int64("prolog", 0, "Prolog instructions requested per region")
	fs.Int64("epilog", 0, "Epilog instructions requested per region")
	fs.Int64("slack", pinpoints.DefaultSlack, "Instructions a capture may fall short of its expected length")
	fs.Bool("retry-too-short", true, "Regenerate captures with too few instructions instead of ignoring them")
	fs.String("artifact-glob", pinpoints.DefaultArtifactGlob, "Glob selecting result files inside the artifact directory")
}

// addDispatchFlags registers the flags that control job launching.
func addDispatchFlags(fs *pflag.FlagSet) {
	fs.IntP("concurrency", "j", 0, "Concurrent capture jobs (default: host core count)")
	fs.Duration("drain-timeout", pinpoints.DefaultDrainTimeout, "How long running jobs may finish after an interrupt")
	fs.String("log-dir", "", "Directory for per-job logs (default <work-dir>/logs)")
	fs.String("tool", "", "Capture tool executable")
	fs.StringArray("tool-arg", nil, "Capture tool argument; repeatable, may use {placeholders}")
	fs.StringSlice("tool-env", nil, "KEY=VALUE added to the capture tool environment")
	fs.Bool("resume", false, "Probe existing captures and dispatch only what is missing")
	fs.String("metrics-file", "", "Write Prometheus metrics in text format to this file at exit")
	fs.String("trace-file", "", "Write the per-pass trace as YAML to this file at exit")
}

// readConfigFile decodes a YAML run configuration. Unknown keys are rejected.
func readConfigFile(path string) (pinpoints.Config, error) {
	var cfg pinpoints.Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// loadConfig builds the run configuration: the --config file first, then
// any explicitly set flag or REGIONGEN_* variable. Defaults are applied but
// the result is not validated.
func loadConfig(fs *pflag.FlagSet) (pinpoints.Config, error) {
	cfg, err := readConfigFile(configPath)
	if err != nil {
		return cfg, err
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return cfg, fmt.Errorf("binding flags: %w", err)
	}
	overlay(v, fs, &cfg)
	return cfg.WithDefaults(), nil
}

// overlay copies every value that was set on the command line or in the
// environment over cfg. Unset flags never clobber file values.
func overlay(v *viper.Viper, fs *pflag.FlagSet, cfg *pinpoints.Config) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	i64 := func(key string, dst *int64) {
		if v.IsSet(key) {
			*dst = v.GetInt64(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("whole-program", &cfg.WholeProgram)
	str("descriptor", &cfg.Descriptor)
	str("work-dir", &cfg.WorkDir)
	str("artifact-dir", &cfg.ArtifactDir)
	i64("warmup", &cfg.Segments.Warmup)
	i64("prolog", &cfg.Segments.Prolog)
	i64("epilog", &cfg.Segments.Epilog)
	if v.IsSet("slack") {
		cfg.Probe.Slack = ptr.To(v.GetInt64("slack"))
	}
	if v.IsSet("retry-too-short") {
		cfg.Probe.RetryTooShort = ptr.To(v.GetBool("retry-too-short"))
	}
	str("artifact-glob", &cfg.Probe.ArtifactGlob)

	if v.IsSet("concurrency") {
		cfg.Dispatch.Concurrency = ptr.To(v.GetInt("concurrency"))
	}
	if v.IsSet("drain-timeout") {
		cfg.Dispatch.DrainTimeout = v.GetDuration("drain-timeout")
	}
	str("log-dir", &cfg.Dispatch.LogDir)
	boolean("dry-run", &cfg.Dispatch.DryRun)
	str("tool", &cfg.Tool.Path)
	// Arguments may contain commas, so they come from the flag verbatim.
	if f := fs.Lookup("tool-arg"); f != nil && f.Changed {
		cfg.Tool.Args, _ = fs.GetStringArray("tool-arg")
	}
	if v.IsSet("tool-env") {
		cfg.Tool.Env = v.GetStringSlice("tool-env")
	}
	boolean("resume", &cfg.Resume)
	str("metrics-file", &cfg.MetricsFile)
	str("trace-file", &cfg.TraceFile)
}
