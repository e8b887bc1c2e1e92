// Package controller runs the generation loop: dispatch a pass, probe the
// captures it produced, and repeat with a reduced descriptor holding only the
// regions that came back missing or truncated.
package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/regiongen/pinpoints"
	"github.com/inference-sim/regiongen/pinpoints/artifact"
	"github.com/inference-sim/regiongen/pinpoints/descriptor"
	"github.com/inference-sim/regiongen/pinpoints/trace"
)

// Dispatcher generates captures for every region of a descriptor.
type Dispatcher interface {
	Generate(ctx context.Context, pass int, desc *pinpoints.Descriptor) error
}

// Prober classifies regions against the captures on disk.
type Prober interface {
	ClassifyAll(regions []pinpoints.Region, enc pinpoints.Encoding) ([]artifact.Result, error)
}

// Archiver preserves the state of a finished pass.
type Archiver interface {
	Archive(iteration int, descriptorPath string, discarded []string) error
}

// Controller drives one generation run. It is single-use.
type Controller struct {
	cfg        pinpoints.Config
	dispatcher Dispatcher
	prober     Prober
	archiver   Archiver
	metrics    *pinpoints.Metrics
	trace      *trace.RunTrace
}

// New returns a controller. metrics may be nil.
func New(cfg pinpoints.Config, d Dispatcher, p Prober, a Archiver, metrics *pinpoints.Metrics) *Controller {
	if metrics == nil {
		metrics = pinpoints.NewMetrics()
	}
	return &Controller{cfg: cfg, dispatcher: d, prober: p, archiver: a, metrics: metrics}
}

// Trace returns the pass records of the run; nil before Run.
func (c *Controller) Trace() *trace.RunTrace { return c.trace }

// CurrentDescriptorPath is where the descriptor of the active pass is kept.
func CurrentDescriptorPath(cfg pinpoints.Config) string {
	return filepath.Join(cfg.WorkDir, cfg.Name()+".pinpoints.csv")
}

// Run loads the configured descriptor and loops until every region has a
// complete capture, the iteration bound is reached, or a fatal error occurs.
// The returned report is never nil; the error is nil only for the converged
// and listed outcomes.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	report := &Report{Outcome: OutcomeHardFailure, Descriptor: CurrentDescriptorPath(c.cfg)}

	full, err := descriptor.Parse(c.cfg.Descriptor)
	if err != nil {
		return report, err
	}
	report.ClusterCount = full.ClusterCount()
	if full.ClusterCount() == 0 {
		return report, fmt.Errorf("%w: %s", pinpoints.ErrNoClusters, c.cfg.Descriptor)
	}
	descriptor.CheckWeights(full.Regions, descriptor.DefaultWeightTolerance)

	state := PassState{Iteration: 1, MaxIterations: full.ClusterCount(), WorkList: full}
	report.MaxIterations = state.MaxIterations
	c.trace = trace.NewRunTrace(c.cfg.Descriptor, full.ClusterCount(), state.MaxIterations)

	if c.cfg.Resume && !c.cfg.Dispatch.DryRun {
		results, err := c.prober.ClassifyAll(full.Regions, full.Encoding)
		if err != nil {
			return report, err
		}
		problems, discarded, _ := c.problems(results)
		if len(problems) == 0 {
			logrus.Infof("All %d region pinballs already present; nothing to generate", full.ClusterCount())
			report.Outcome = OutcomeConverged
			return report, nil
		}
		logrus.Infof("Resuming: %d of %d regions need generation", len(problems), full.ClusterCount())
		if len(discarded) > 0 {
			// Iteration 0 holds the state found on disk before the first pass.
			if err := c.archiver.Archive(0, c.cfg.Descriptor, discarded); err != nil {
				return report, fmt.Errorf("archiving captures found on resume: %w", err)
			}
		}
		if state.WorkList, err = full.Subset(problems); err != nil {
			return report, err
		}
	}

	// A dry run leaves the current descriptor of an earlier run in place.
	if c.cfg.Dispatch.DryRun {
		report.Descriptor = c.cfg.Descriptor
	} else if err := descriptor.Write(report.Descriptor, state.WorkList, descriptor.IterationNote(state.Iteration)); err != nil {
		return report, err
	}

	for {
		if err := ctx.Err(); err != nil {
			c.archive(state.Iteration, report.Descriptor, nil)
			report.Outcome = OutcomeCancelled
			return report, fmt.Errorf("%w: %v", pinpoints.ErrCancelled, err)
		}

		start := time.Now()
		report.Passes = state.Iteration
		c.metrics.Passes.Inc()
		rec := trace.PassRecord{Iteration: state.Iteration, Dispatched: numbers(state.WorkList.Regions)}

		err := c.dispatcher.Generate(ctx, state.Iteration, state.WorkList)
		if err != nil {
			rec.DurationMs = time.Since(start).Milliseconds()
			c.trace.RecordPass(rec)
			c.archive(state.Iteration, report.Descriptor, nil)
			report.Outcome = OutcomeHardFailure
			if errors.Is(err, pinpoints.ErrCancelled) || ctx.Err() != nil {
				report.Outcome = OutcomeCancelled
			}
			return report, err
		}
		if c.cfg.Dispatch.DryRun {
			report.Outcome = OutcomeListed
			return report, nil
		}

		results, err := c.prober.ClassifyAll(state.WorkList.Regions, state.WorkList.Encoding)
		if err != nil {
			c.archive(state.Iteration, report.Descriptor, nil)
			return report, fmt.Errorf("probing iteration %d: %w", state.Iteration, err)
		}
		problems, discarded, rec := c.record(results, rec)
		rec.DurationMs = time.Since(start).Milliseconds()
		c.trace.RecordPass(rec)

		if len(problems) == 0 {
			logrus.Infof("All region pinballs generated after %d iterations", state.Iteration)
			report.Outcome = OutcomeConverged
			return report, nil
		}

		if state.Iteration >= state.MaxIterations {
			c.archive(state.Iteration, report.Descriptor, discarded)
			report.Unresolved = rec.Problems()
			sort.Ints(report.Unresolved)
			report.Outcome = OutcomeExhausted
			return report, &ExhaustedError{
				Iterations:   state.Iteration,
				ClusterCount: report.ClusterCount,
				Unresolved:   report.Unresolved,
			}
		}

		if err := c.archiver.Archive(state.Iteration, report.Descriptor, discarded); err != nil {
			return report, fmt.Errorf("archiving iteration %d: %w", state.Iteration, err)
		}
		next, err := state.WorkList.Subset(problems)
		if err != nil {
			return report, err
		}
		if err := descriptor.Write(report.Descriptor, next, descriptor.IterationNote(state.Iteration+1)); err != nil {
			return report, err
		}
		state.Iteration++
		state.WorkList = next
	}
}

// problems splits results into the clusters to regenerate and the files of
// their discarded captures. Truncated captures are only regenerated when
// configured; otherwise they are returned in ignored.
func (c *Controller) problems(results []artifact.Result) (problems []int, discarded []string, ignored []int) {
	for _, res := range results {
		switch res.Status {
		case artifact.StatusMissing:
			problems = append(problems, res.Region.ClusterID)
		case artifact.StatusTooShort:
			if !c.cfg.RetryTooShort() {
				ignored = append(ignored, res.Region.Number())
				continue
			}
			problems = append(problems, res.Region.ClusterID)
			files, err := res.Discarded()
			if err != nil {
				logrus.Warnf("listing capture files of region %d: %v", res.Region.Number(), err)
				continue
			}
			discarded = append(discarded, files...)
		}
	}
	return problems, discarded, ignored
}

func (c *Controller) record(results []artifact.Result, rec trace.PassRecord) ([]int, []string, trace.PassRecord) {
	problems, discarded, ignored := c.problems(results)
	for _, res := range results {
		switch {
		case res.Status == artifact.StatusMissing:
			rec.Missing = append(rec.Missing, res.Region.Number())
		case res.Status == artifact.StatusTooShort && c.cfg.RetryTooShort():
			rec.TooShort = append(rec.TooShort, res.Region.Number())
		}
	}
	rec.Ignored = ignored

	if len(rec.Missing) > 0 {
		logrus.Infof("Missing region pinballs for %s: %v", c.cfg.Name(), rec.Missing)
	}
	if len(rec.TooShort) > 0 {
		logrus.Infof("Region pinballs with too few instructions for %s: %v", c.cfg.Name(), rec.TooShort)
	}
	if len(rec.Ignored) > 0 {
		logrus.Warnf("IGNORING: Region pinballs with too few instructions, %s: %v", c.cfg.Name(), rec.Ignored)
	}
	c.metrics.ProblemRegions.WithLabelValues(artifact.StatusMissing.String()).Set(float64(len(rec.Missing)))
	c.metrics.ProblemRegions.WithLabelValues(artifact.StatusTooShort.String()).Set(float64(len(rec.TooShort)))
	return problems, discarded, rec
}

// archive preserves state on the way out of a failed run; its own failure
// is logged so the original error is the one reported.
func (c *Controller) archive(iteration int, descriptorPath string, discarded []string) {
	if c.cfg.Dispatch.DryRun {
		return
	}
	if err := c.archiver.Archive(iteration, descriptorPath, discarded); err != nil {
		logrus.Errorf("archiving iteration %d: %v", iteration, err)
	}
}

func numbers(regions []pinpoints.Region) []int {
	out := make([]int, len(regions))
	for i, r := range regions {
		out[i] = r.Number()
	}
	return out
}
