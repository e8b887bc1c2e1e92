package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/regiongen/pinpoints"
	"github.com/inference-sim/regiongen/pinpoints/descriptor"
)

// validateCmd checks a regions CSV without touching any capture
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse a regions CSV and report its encoding, clusters and weights",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if cfg.Descriptor == "" {
			logrus.Fatalf("Invalid configuration: descriptor is required")
		}
		if err := runValidate(cfg.Descriptor, os.Stdout); err != nil {
			logrus.Errorf("%v", err)
			os.Exit(1)
		}
	},
}

// runValidate parses path and prints a short description of it. Weights
// that do not sum to one are reported but are not an error.
func runValidate(path string, out io.Writer) error {
	desc, err := descriptor.Parse(path)
	if err != nil {
		return err
	}
	if desc.ClusterCount() == 0 {
		return fmt.Errorf("%w: %s", pinpoints.ErrNoClusters, path)
	}
	sum := descriptor.WeightSum(desc.Regions)
	ok := descriptor.CheckWeights(desc.Regions, descriptor.DefaultWeightTolerance)

	global := 0
	for _, r := range desc.Regions {
		if r.IsGlobal() {
			global++
		}
	}
	fmt.Fprintf(out, "descriptor: %s\n", path)
	fmt.Fprintf(out, "encoding:   %s\n", desc.Encoding)
	fmt.Fprintf(out, "clusters:   %d (%d global)\n", desc.ClusterCount(), global)
	fmt.Fprintf(out, "weights:    %.5f", sum)
	if !ok {
		fmt.Fprint(out, " (does not sum to 1)")
	}
	fmt.Fprintln(out)
	return nil
}

func init() {
	validateCmd.Flags().String("descriptor", "", "Regions CSV produced by clustering")
}
