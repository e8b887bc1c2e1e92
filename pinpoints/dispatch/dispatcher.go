package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/inference-sim/regiongen/pinpoints"
)

// Dispatcher issues one capture job per region, at most Concurrency() at a
// time. A Dispatcher may be reused across passes but not shared between
// concurrent Generate calls.
type Dispatcher struct {
	cfg     pinpoints.Config
	runner  Runner
	metrics *pinpoints.Metrics

	mu      sync.Mutex
	running map[int]Job // by cluster id
}

// New returns a dispatcher running jobs through runner. metrics may be nil.
func New(cfg pinpoints.Config, runner Runner, metrics *pinpoints.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = pinpoints.NewMetrics()
	}
	return &Dispatcher{cfg: cfg, runner: runner, metrics: metrics, running: make(map[int]Job)}
}

// Generate runs the capture tool for every region of desc, in descriptor
// order, and returns once every started job has finished.
//
// A failed job stops further jobs from being started but does not interrupt
// jobs already running; the first failure is returned after they drain.
// Cancelling ctx also stops new jobs; running jobs get the configured drain
// timeout before they are terminated, and the result is ErrCancelled.
func (d *Dispatcher) Generate(ctx context.Context, pass int, desc *pinpoints.Descriptor) error {
	limit := d.cfg.Concurrency()
	logrus.Infof("Iteration %d generating region pinballs for %d regions (%d concurrent)",
		pass, desc.ClusterCount(), limit)

	cfg := d.cfg
	if cfg.Dispatch.DryRun {
		// Listing must not touch the work directory a later run resumes from.
		tmp, err := os.MkdirTemp("", "regiongen-list-")
		if err != nil {
			return fmt.Errorf("creating dry-run job directory: %w", err)
		}
		cfg.WorkDir = tmp
		logrus.Infof("Dry run: job descriptors written under %s", tmp)
	}

	jobCtx, stop := d.jobContext(ctx)
	defer stop()

	sem := semaphore.NewWeighted(int64(limit))
	var g errgroup.Group
	var failed atomic.Bool

	for _, r := range desc.Regions {
		if ctx.Err() != nil || failed.Load() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if failed.Load() {
			sem.Release(1)
			break
		}
		job, err := BuildJob(cfg, pass, desc, r)
		if err != nil {
			sem.Release(1)
			failed.Store(true)
			g.Go(func() error { return err })
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return d.run(jobCtx, job, &failed)
		})
	}

	if n := len(d.Running()); n > 0 {
		logrus.Infof("Waiting on concurrent region pinball generation (%d running)", n)
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", pinpoints.ErrCancelled, context.Cause(ctx))
	}
	return err
}

// jobContext returns the context jobs run under. It outlives ctx by the
// drain timeout so that an interrupt lets running jobs finish.
func (d *Dispatcher) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	drain := d.cfg.Dispatch.DrainTimeout
	stopDrain := context.AfterFunc(ctx, func() {
		logrus.Warnf("interrupted; no new jobs will start, waiting up to %s for %d running jobs",
			drain, len(d.Running()))
		time.AfterFunc(drain, cancel)
	})
	return jobCtx, func() {
		stopDrain()
		cancel()
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job, failed *atomic.Bool) error {
	d.track(job, true)
	defer d.track(job, false)

	logrus.Debugf("region %d: %s", job.Region.Number(), job)
	d.metrics.JobsStarted.Inc()
	d.metrics.JobsInFlight.Inc()
	start := time.Now()
	err := d.runner.Run(ctx, job)
	d.metrics.JobsInFlight.Dec()
	d.metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		logrus.Debugf("region %d finished in %s", job.Region.Number(), time.Since(start).Round(time.Millisecond))
		return nil
	}
	failed.Store(true)
	d.metrics.JobsFailed.Inc()
	if !errors.Is(err, pinpoints.ErrDispatchFailure) {
		err = &JobError{ClusterID: job.Region.ClusterID, Region: job.Region.Number(),
			ExitCode: -1, LogPath: job.LogPath, Err: err}
	}
	logrus.Errorf("%v", err)
	return err
}

func (d *Dispatcher) track(job Job, running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if running {
		d.running[job.Region.ClusterID] = job
	} else {
		delete(d.running, job.Region.ClusterID)
	}
}

// Running returns the cluster ids of jobs currently in flight.
func (d *Dispatcher) Running() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
