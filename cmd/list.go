package cmd

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/regiongen/pinpoints/dispatch"
)

// listCmd prints the capture commands of the first pass
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the capture commands the first pass would run",
	Long:  "Print the capture commands the first pass would run. Job descriptors are written\n" +
		"to a temporary directory; the work directory and artifact directory are not touched.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		cfg.Dispatch.DryRun = true
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if _, err := runGeneration(context.Background(), cfg, &dispatch.DryRunner{Out: os.Stdout}, os.Stdout); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	addInputFlags(listCmd.Flags())
	addDispatchFlags(listCmd.Flags())
}
