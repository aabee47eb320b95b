package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan [goal]",
	Short: "Preview the execution plan for a goal",
	Long: `Builds the plan the pipeline would follow for a goal without fetching or
processing anything. When the planner is unreachable the static fallback
plan is shown instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		output, _ := cmd.Flags().GetString("output")

		err := cli.ExecutePlan(cli.PlanOptions{
			ConfigPath: configPath,
			Goal:       strings.Join(args, " "),
			Output:     output,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringP("output", "o", "table", "Output format: table, yaml, or mermaid")
}
