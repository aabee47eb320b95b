package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Execute the pipeline for a goal",
	Long: `Runs the full pipeline: plan the goal, fetch the open tasks, classify the
workload, route every task through its processor, and write the markdown report.

The goal may be given as arguments; without one a generic daily goal is used.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		runID, _ := cmd.Flags().GetString("id")
		limit, _ := cmd.Flags().GetInt("limit")
		source, _ := cmd.Flags().GetString("source")
		fixture, _ := cmd.Flags().GetString("fixture")
		tracePath, _ := cmd.Flags().GetString("trace")
		jsonMode, _ := cmd.Flags().GetBool("json")
		quiet, _ := cmd.Flags().GetBool("quiet")
		debug, _ := cmd.Flags().GetBool("debug")
		noArchive, _ := cmd.Flags().GetBool("no-archive")

		err := cli.ExecuteRun(cli.RunOptions{
			ConfigPath:  configPath,
			Goal:        strings.Join(args, " "),
			RunID:       runID,
			Limit:       limit,
			Source:      source,
			FixturePath: fixture,
			TracePath:   tracePath,
			JSON:        jsonMode,
			Quiet:       quiet,
			Debug:       debug,
			NoArchive:   noArchive,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("id", "", "Run identifier (generated when omitted)")
	runCmd.Flags().IntP("limit", "n", 0, "Cap the number of tasks fetched for this run")
	runCmd.Flags().String("source", "", "Task source: todoist or fixture")
	runCmd.Flags().String("fixture", "", "Path to a JSON task fixture (implies --source fixture)")
	runCmd.Flags().String("trace", "", "Write a JSONL trace of the run to this file")
	runCmd.Flags().Bool("json", false, "Emit progress as NDJSON instead of text")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress progress output")
	runCmd.Flags().Bool("debug", false, "Log every lifecycle event at debug level")
	runCmd.Flags().Bool("no-archive", false, "Skip archiving the run record")
}
