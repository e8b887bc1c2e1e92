package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/regiongen/pinpoints"
	"github.com/inference-sim/regiongen/pinpoints/archive"
	"github.com/inference-sim/regiongen/pinpoints/artifact"
	"github.com/inference-sim/regiongen/pinpoints/controller"
	"github.com/inference-sim/regiongen/pinpoints/dispatch"
	"github.com/inference-sim/regiongen/pinpoints/trace"
)

// killGrace is how long an interrupted capture process gets to exit after
// SIGTERM before it is killed.
const killGrace = 30 * time.Second

// generateCmd runs the generation loop to completion
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate region pinballs, regenerating missing or truncated ones until all exist",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		logrus.Infof("Generating region pinballs for %s from %s (concurrency %d)",
			cfg.Name(), cfg.Descriptor, cfg.Concurrency())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var runner dispatch.Runner = &dispatch.ProcessRunner{KillGrace: killGrace}
		if cfg.Dispatch.DryRun {
			runner = &dispatch.DryRunner{Out: os.Stdout}
		}
		if _, err := runGeneration(ctx, cfg, runner, os.Stdout); err != nil {
			stop()
			os.Exit(1)
		}
	},
}

// runSummary is the JSON document printed on stdout when a run ends.
type runSummary struct {
	*controller.Report
	Trace *trace.RunSummary `json:"trace"`
}

// runGeneration wires the components for cfg, runs the controller and
// writes the requested outputs. The error is the controller's.
func runGeneration(ctx context.Context, cfg pinpoints.Config, runner dispatch.Runner, out io.Writer) (*controller.Report, error) {
	metrics := pinpoints.NewMetrics()
	ctl := controller.New(cfg,
		dispatch.New(cfg, runner, metrics),
		artifact.NewProber(cfg),
		archive.New(cfg.WorkDir),
		metrics)

	report, err := ctl.Run(ctx)
	logOutcome(report, err)

	if cfg.MetricsFile != "" {
		if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
			logrus.Errorf("writing metrics: %v", werr)
		}
	}
	if cfg.TraceFile != "" && ctl.Trace() != nil {
		if werr := trace.Export(ctl.Trace(), cfg.TraceFile); werr != nil {
			logrus.Errorf("writing trace: %v", werr)
		}
	}
	if report.Outcome != controller.OutcomeListed {
		if werr := printSummary(out, report, ctl.Trace()); werr != nil {
			logrus.Errorf("writing summary: %v", werr)
		}
	}
	return report, err
}

func logOutcome(report *controller.Report, err error) {
	var exhausted *controller.ExhaustedError
	var jobErr *dispatch.JobError
	switch {
	case err == nil && report.Outcome == controller.OutcomeListed:
		logrus.Infof("Listed jobs for %d regions; nothing was run", report.ClusterCount)
	case err == nil:
		logrus.Infof("All %d region pinballs present after %d iterations", report.ClusterCount, report.Passes)
	case errors.As(err, &exhausted):
		logrus.Errorf("Too many iterations: %d for %d clusters, regions still unresolved: %v",
			exhausted.Iterations, exhausted.ClusterCount, exhausted.Unresolved)
	case errors.As(err, &jobErr):
		logrus.Errorf("Region %d failed with exit code %d; see %s", jobErr.Region, jobErr.ExitCode, jobErr.LogPath)
	case errors.Is(err, pinpoints.ErrCancelled):
		logrus.Warnf("Interrupted during iteration %d; state archived under %s", report.Passes, pinpoints.IterDirName(report.Passes))
	default:
		logrus.Errorf("%v", err)
	}
}

func printSummary(w io.Writer, report *controller.Report, rt *trace.RunTrace) error {
	data, err := json.MarshalIndent(runSummary{Report: report, Trace: trace.Summarize(rt)}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func init() {
	addInputFlags(generateCmd.Flags())
	addDispatchFlags(generateCmd.Flags())
	generateCmd.Flags().Bool("dry-run", false, "Print the jobs of the first pass instead of running them")
}
