package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/inference-sim/regiongen/pinpoints"
	"github.com/inference-sim/regiongen/pinpoints/artifact"
	"github.com/inference-sim/regiongen/pinpoints/dispatch"
)

// Outcome is what one fake invocation leaves behind.
type Outcome int

const (
	Produce  Outcome = iota // a complete capture
	Skip                    // no capture at all
	Truncate                // a capture far shorter than requested
	Fail                    // no capture and a non-zero exit
)

// Behavior decides the outcome of the attempt-th dispatch (1-based) of r.
type Behavior func(r pinpoints.Region, attempt int) Outcome

// SucceedAfter returns a behavior that skips each region's first n attempts.
func SucceedAfter(n int) Behavior {
	return func(_ pinpoints.Region, attempt int) Outcome {
		if attempt <= n {
			return Skip
		}
		return Produce
	}
}

// Never returns a behavior that never produces anything.
func Never() Behavior {
	return func(pinpoints.Region, int) Outcome { return Skip }
}

// FakeTool stands in for the capture tool. It can be driven directly as the
// controller's dispatcher, or per job as a dispatch.Runner behind a real
// dispatch.Dispatcher.
type FakeTool struct {
	ArtifactDir string
	Base        string
	Encoding    pinpoints.Encoding
	Segments    pinpoints.SegmentLengths
	Behavior    Behavior // nil always produces

	mu       sync.Mutex
	attempts map[int]int
	passes   [][]int
}

// NewFakeTool returns a fake writing icount captures for cfg.
func NewFakeTool(cfg pinpoints.Config, behavior Behavior) *FakeTool {
	return &FakeTool{
		ArtifactDir: cfg.ArtifactDir,
		Base:        cfg.Name(),
		Encoding:    pinpoints.EncodingICount,
		Segments:    cfg.Segments,
		Behavior:    behavior,
		attempts:    make(map[int]int),
	}
}

// Generate handles a whole pass in descriptor order. The first failing region
// is reported after the rest of the pass has run.
func (f *FakeTool) Generate(ctx context.Context, pass int, desc *pinpoints.Descriptor) error {
	ids := make([]int, 0, desc.ClusterCount())
	var firstErr error
	for _, r := range desc.Regions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", pinpoints.ErrCancelled, err)
		}
		ids = append(ids, r.ClusterID)
		if err := f.capture(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.mu.Lock()
	f.passes = append(f.passes, ids)
	f.mu.Unlock()
	return firstErr
}

// Run handles one job.
func (f *FakeTool) Run(_ context.Context, job dispatch.Job) error {
	return f.capture(job.Region)
}

// Passes returns the cluster ids handed to each Generate call.
func (f *FakeTool) Passes() [][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int(nil), f.passes...)
}

// Attempts returns how often the cluster was dispatched.
func (f *FakeTool) Attempts(clusterID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[clusterID]
}

func (f *FakeTool) capture(r pinpoints.Region) error {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[int]int)
	}
	f.attempts[r.ClusterID]++
	attempt := f.attempts[r.ClusterID]
	f.mu.Unlock()

	outcome := Produce
	if f.Behavior != nil {
		outcome = f.Behavior(r, attempt)
	}
	full := artifact.Expected(r, f.Encoding, f.Segments).Total()
	switch outcome {
	case Produce:
		return f.WriteCapture(r, full)
	case Truncate:
		return f.WriteCapture(r, full/10)
	case Fail:
		return &dispatch.JobError{ClusterID: r.ClusterID, Region: r.Number(), ExitCode: 1,
			LogPath: "fake", Err: errors.New("exit status 1")}
	default:
		return nil
	}
}

// WriteCapture materializes a capture of r holding count instructions.
func (f *FakeTool) WriteCapture(r pinpoints.Region, count int64) error {
	if err := os.MkdirAll(f.ArtifactDir, 0o755); err != nil {
		return err
	}
	name := artifact.NameFor(f.Base, r, f.Encoding, f.Segments)
	stem := filepath.Join(f.ArtifactDir, name.String())
	if err := os.WriteFile(stem+".address", []byte("fake"), 0o644); err != nil {
		return err
	}
	variant := "0"
	if r.IsGlobal() {
		variant = "global"
	}
	return artifact.WriteResult(stem+"."+variant+".result", count)
}
