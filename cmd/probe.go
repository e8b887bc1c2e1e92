package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/regiongen/pinpoints"
	"github.com/inference-sim/regiongen/pinpoints/artifact"
	"github.com/inference-sim/regiongen/pinpoints/descriptor"
)

// probeCmd classifies the captures already on disk
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Classify existing region pinballs against the regions CSV",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := cfg.ValidateProbe(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		problems, err := runProbe(cfg, os.Stdout)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if problems > 0 {
			os.Exit(1)
		}
	},
}

// runProbe prints one row per region and returns how many regions would be
// regenerated.
func runProbe(cfg pinpoints.Config, out io.Writer) (int, error) {
	desc, err := descriptor.Parse(cfg.Descriptor)
	if err != nil {
		return 0, err
	}
	results, err := artifact.NewProber(cfg).ClassifyAll(desc.Regions, desc.Encoding)
	if err != nil {
		return 0, err
	}

	problems := 0
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tTHREAD\tSTATUS\tEXPECTED\tREALIZED\tARTIFACT")
	for _, res := range results {
		thread := strconv.Itoa(res.Region.ThreadID)
		if res.Region.IsGlobal() {
			thread = "global"
		}
		path := "-"
		if res.Artifact != nil {
			path = res.Artifact.Path
		}
		status := res.Status.String()
		switch {
		case res.Status == artifact.StatusMissing:
			problems++
		case res.Status == artifact.StatusTooShort && cfg.RetryTooShort():
			problems++
		case res.Status == artifact.StatusTooShort:
			status += " (ignored)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			res.Region.Number(), thread, status, res.Expected.Total(), res.Realized, path)
	}
	if err := tw.Flush(); err != nil {
		return problems, err
	}
	return problems, nil
}

func init() {
	addInputFlags(probeCmd.Flags())
}
