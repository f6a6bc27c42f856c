package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/stabilizer"
)

// onceCmd runs a single pass and prints its report
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single discovery and stabilization pass and print the report",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := runOnce(cmd.Context(), args); err != nil {
			os.Exit(1)
		}
	},
}

func runOnce(ctx context.Context, args *model.Args) error {
	agent, _, err := newAgent(ctx, args)
	if err != nil {
		return err
	}

	report, err := agent.Once(ctx)
	printReport(report)

	return err
}

func printReport(report *stabilizer.Report) {
	if report == nil {
		return
	}

	b, err := report.Marshal()
	if err != nil {
		slog.Error("Failed to print report", "error", err)
		return
	}

	fmt.Println(string(b))
}

func init() {
	rootCmd.AddCommand(onceCmd)
}
