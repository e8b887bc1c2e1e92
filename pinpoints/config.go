package pinpoints

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"k8s.io/utils/ptr"
)

// Defaults applied by WithDefaults.
const (
	DefaultSlack        int64 = 100000 // instructions a capture may fall short before it is TooShort
	DefaultDrainTimeout       = 5 * time.Minute
	DefaultArtifactGlob       = "*.result"
	// IterDirBase is the prefix of per-iteration directories (csv_iter-01, ...).
	IterDirBase = "csv_iter"
)

// Config is the complete, validated configuration for one generation run.
// It is built once (file, then flags and environment) and passed by value to
// every component; nothing mutates it after Validate.
type Config struct {
	WholeProgram string `yaml:"whole_program"` // whole-program pinball basename
	Descriptor   string `yaml:"descriptor"`    // regions CSV produced by clustering
	WorkDir      string `yaml:"work_dir"`      // defaults to <whole_program>.Data
	ArtifactDir  string `yaml:"artifact_dir"`  // defaults to <name>.pp

	Segments SegmentLengths `yaml:"segments"`
	Probe    ProbeConfig    `yaml:"probe"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Tool     ToolConfig     `yaml:"tool"`

	Resume      bool   `yaml:"resume"`       // probe existing captures before the first dispatch
	MetricsFile string `yaml:"metrics_file"` // Prometheus textfile written at exit (optional)
	TraceFile   string `yaml:"trace_file"`   // YAML pass trace written at exit (optional)
}

// SegmentLengths are the instruction counts requested for the segments that
// surround each region body.
type SegmentLengths struct {
	Warmup int64 `yaml:"warmup"`
	Prolog int64 `yaml:"prolog"`
	Epilog int64 `yaml:"epilog"`
}

// ProbeConfig controls artifact classification.
type ProbeConfig struct {
	Slack         *int64 `yaml:"slack,omitempty"`
	RetryTooShort *bool  `yaml:"retry_too_short,omitempty"`
	ArtifactGlob  string `yaml:"artifact_glob"`
}

// DispatchConfig controls how capture jobs are launched.
type DispatchConfig struct {
	Concurrency  *int          `yaml:"concurrency,omitempty"` // nil = host core count
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	LogDir       string        `yaml:"log_dir"`
	DryRun       bool          `yaml:"dry_run"`
}

// ToolConfig describes the external capture tool. Args may reference the
// placeholders understood by dispatch.BuildJob; an empty Args selects the
// pinplay replayer defaults for the descriptor's encoding.
type ToolConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
	Env  []string `yaml:"env"`
}

// Name returns the whole-program capture name without directories or a
// trailing thread id, as used for the artifact and data directories.
func (c Config) Name() string {
	return RemoveThreadID(filepath.Base(c.WholeProgram))
}

// Concurrency returns the job concurrency limit.
func (c Config) Concurrency() int {
	return ptr.Deref(c.Dispatch.Concurrency, runtime.NumCPU())
}

// Slack returns the TooShort tolerance in instructions.
func (c Config) Slack() int64 {
	return ptr.Deref(c.Probe.Slack, DefaultSlack)
}

// RetryTooShort reports whether truncated captures are regenerated.
func (c Config) RetryTooShort() bool {
	return ptr.Deref(c.Probe.RetryTooShort, true)
}

// ArtifactPattern returns the glob matching result files of region captures.
func (c Config) ArtifactPattern() string {
	return filepath.Join(c.ArtifactDir, c.Probe.ArtifactGlob)
}

// IterDir returns the per-iteration directory for the given iteration.
func (c Config) IterDir(iteration int) string {
	return filepath.Join(c.WorkDir, IterDirName(iteration))
}

// IterDirName returns the directory name for an iteration, e.g. csv_iter-02.
func IterDirName(iteration int) string {
	return fmt.Sprintf("%s-%02d", IterDirBase, iteration)
}

// WithDefaults returns a copy of c with derived paths and defaults filled in.
func (c Config) WithDefaults() Config {
	if c.WorkDir == "" && c.WholeProgram != "" {
		c.WorkDir = RemoveThreadID(c.WholeProgram) + ".Data"
	}
	if c.ArtifactDir == "" && c.WholeProgram != "" {
		c.ArtifactDir = c.Name() + ".pp"
	}
	if c.Probe.ArtifactGlob == "" {
		c.Probe.ArtifactGlob = DefaultArtifactGlob
	}
	if c.Dispatch.DrainTimeout == 0 {
		c.Dispatch.DrainTimeout = DefaultDrainTimeout
	}
	if c.Dispatch.LogDir == "" && c.WorkDir != "" {
		c.Dispatch.LogDir = filepath.Join(c.WorkDir, "logs")
	}
	return c
}

// Validate checks that the configuration is complete and consistent for a
// generation run.
func (c Config) Validate() error {
	if err := c.ValidateProbe(); err != nil {
		return err
	}
	if c.Tool.Path == "" {
		return fmt.Errorf("tool.path is required")
	}
	if c.Segments.Warmup < 0 || c.Segments.Prolog < 0 || c.Segments.Epilog < 0 {
		return fmt.Errorf("segment lengths must be non-negative, got warmup=%d prolog=%d epilog=%d",
			c.Segments.Warmup, c.Segments.Prolog, c.Segments.Epilog)
	}
	if c.Dispatch.Concurrency != nil && *c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be >= 1, got %d", *c.Dispatch.Concurrency)
	}
	if c.Dispatch.DrainTimeout < 0 {
		return fmt.Errorf("dispatch.drain_timeout must be non-negative, got %s", c.Dispatch.DrainTimeout)
	}
	for _, kv := range c.Tool.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("tool.env entry %q is not KEY=VALUE", kv)
		}
	}
	return nil
}

// ValidateProbe checks the subset of the configuration needed to classify
// existing captures; no capture tool is required.
func (c Config) ValidateProbe() error {
	if c.WholeProgram == "" {
		return fmt.Errorf("whole_program is required")
	}
	if c.Descriptor == "" {
		return fmt.Errorf("descriptor is required")
	}
	if c.WorkDir == "" || c.ArtifactDir == "" {
		return fmt.Errorf("work_dir and artifact_dir must be set (call WithDefaults)")
	}
	if c.Probe.Slack != nil && *c.Probe.Slack < 0 {
		return fmt.Errorf("probe.slack must be non-negative, got %d", *c.Probe.Slack)
	}
	if _, err := filepath.Match(c.Probe.ArtifactGlob, "x"); err != nil {
		return fmt.Errorf("probe.artifact_glob %q: %w", c.Probe.ArtifactGlob, err)
	}
	return nil
}

// RemoveThreadID strips a trailing ".<tid>" from a pinball name. Whole-program
// pinballs relogged with a focus thread carry one; their data and artifact
// directories do not.
func RemoveThreadID(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot < 0 || dot == len(name)-1 {
		return name
	}
	for _, ch := range name[dot+1:] {
		if ch < '0' || ch > '9' {
			return name
		}
	}
	return name[:dot]
}
