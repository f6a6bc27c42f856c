package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/metal-toolbox/rackstab/internal/model"
)

// dryCmd predicts the persistent identifiers without committing them
var dryCmd = &cobra.Command{
	Use:   "dry",
	Short: "Predict the persistent identifier of every discovered resource",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := runDry(cmd.Context(), args); err != nil {
			os.Exit(1)
		}
	},
}

func runDry(ctx context.Context, args *model.Args) error {
	agent, _, err := newAgent(ctx, args)
	if err != nil {
		return err
	}

	report, err := agent.Predict(ctx)
	printReport(report)

	return err
}

func init() {
	rootCmd.AddCommand(dryCmd)
}
