// Package dispatch launches the external capture tool once per region, with
// a bound on how many invocations run at the same time.
package dispatch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/inference-sim/regiongen/pinpoints"
	"github.com/inference-sim/regiongen/pinpoints/descriptor"
)

// Job is one invocation of the capture tool for one region.
type Job struct {
	Pass       int
	Region     pinpoints.Region
	Descriptor string // single-region descriptor handed to the tool
	Command    string
	Args       []string
	Env        []string // KEY=VALUE pairs added to the inherited environment
	LogPath    string   // stdout and stderr of the invocation
}

// String renders the job as a shell-like command line.
func (j Job) String() string {
	parts := make([]string, 0, len(j.Args)+1+len(j.Env))
	parts = append(parts, j.Env...)
	parts = append(parts, j.Command)
	for _, a := range j.Args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Placeholders understood in tool arguments and environment values.
const (
	PhWholeProgram  = "{whole_program}"
	PhDescriptor    = "{descriptor}"
	PhOutDescriptor = "{out_descriptor}"
	PhBasename      = "{basename}"
	PhWarmup        = "{warmup}"
	PhProlog        = "{prolog}"
	PhEpilog        = "{epilog}"
	PhCluster       = "{cluster}"
	PhRegion        = "{region}"
	PhThread        = "{thread}"
)

// DefaultArgs returns the replayer arguments used when the configuration
// names none. Region captures are relogged from the whole-program capture.
func DefaultArgs(enc pinpoints.Encoding, r pinpoints.Region) []string {
	args := []string{"-replay", "-replay:basename", PhWholeProgram, "-log", "-log:basename", PhBasename}
	if enc == pinpoints.EncodingPC {
		args = append(args,
			"-log:pcregions:in", PhDescriptor,
			"-log:pcregions:out", PhOutDescriptor,
			"-log:pcregions:merge_warmup")
	} else {
		args = append(args,
			"-log:regions:in", PhDescriptor,
			"-log:regions:out", PhOutDescriptor,
			"-log:regions:warmup", PhWarmup,
			"-log:regions:prolog", PhProlog,
			"-log:regions:epilog", PhEpilog)
	}
	if !r.IsGlobal() {
		args = append(args, "-log:focus_thread", PhThread)
	}
	return args
}

// JobDir returns the directory holding the per-region descriptors of a pass.
func JobDir(cfg pinpoints.Config, pass int) string {
	return filepath.Join(cfg.WorkDir, "jobs", fmt.Sprintf("pass-%02d", pass))
}

// LogPath returns where the output of one invocation is captured.
func LogPath(cfg pinpoints.Config, pass int, r pinpoints.Region) string {
	return filepath.Join(cfg.Dispatch.LogDir, fmt.Sprintf("pass-%02d_r%d.log", pass, r.Number()))
}

// BuildJob prepares the invocation for one region of desc: it writes the
// single-region descriptor the tool reads and expands the argument template.
func BuildJob(cfg pinpoints.Config, pass int, desc *pinpoints.Descriptor, r pinpoints.Region) (Job, error) {
	sub, err := desc.Subset([]int{r.ClusterID})
	if err != nil {
		return Job{}, err
	}
	dir := JobDir(cfg, pass)
	in := filepath.Join(dir, fmt.Sprintf("r%d.in.csv", r.Number()))
	if err := descriptor.Write(in, sub, descriptor.IterationNote(pass)); err != nil {
		return Job{}, fmt.Errorf("writing job descriptor for region %d: %w", r.Number(), err)
	}

	expand := strings.NewReplacer(
		PhWholeProgram, cfg.WholeProgram,
		PhDescriptor, in,
		PhOutDescriptor, filepath.Join(dir, fmt.Sprintf("r%d.out.csv", r.Number())),
		PhBasename, filepath.Join(cfg.ArtifactDir, cfg.Name()),
		PhWarmup, strconv.FormatInt(cfg.Segments.Warmup, 10),
		PhProlog, strconv.FormatInt(cfg.Segments.Prolog, 10),
		PhEpilog, strconv.FormatInt(cfg.Segments.Epilog, 10),
		PhCluster, strconv.Itoa(r.ClusterID),
		PhRegion, strconv.Itoa(r.Number()),
		PhThread, strconv.Itoa(r.ThreadID),
	)
	template := cfg.Tool.Args
	if len(template) == 0 {
		template = DefaultArgs(desc.Encoding, r)
	}
	job := Job{
		Pass:       pass,
		Region:     r,
		Descriptor: in,
		Command:    cfg.Tool.Path,
		Args:       make([]string, len(template)),
		LogPath:    LogPath(cfg, pass, r),
	}
	for i, a := range template {
		job.Args[i] = expand.Replace(a)
	}
	for _, kv := range cfg.Tool.Env {
		job.Env = append(job.Env, expand.Replace(kv))
	}
	return job, nil
}
