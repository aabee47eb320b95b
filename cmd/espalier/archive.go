package main

import (
	"fmt"
	"os"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

// archiveCmd groups the run archive subcommands.
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect archived runs",
	Long:  `Lists, shows, and removes run records from the configured archive backend.`,
}

var archiveLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List archived runs",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		if err := cli.ExecuteArchiveList(configPath); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one archived run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		asJSON, _ := cmd.Flags().GetBool("json")
		asTrace, _ := cmd.Flags().GetBool("trace")
		if err := cli.ExecuteArchiveShow(configPath, args[0], asJSON, asTrace); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var archiveRmCmd = &cobra.Command{
	Use:   "rm <run-id>",
	Short: "Remove an archived run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		if err := cli.ExecuteArchiveRemove(configPath, args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveLsCmd)
	archiveCmd.AddCommand(archiveShowCmd)
	archiveCmd.AddCommand(archiveRmCmd)

	archiveShowCmd.Flags().Bool("json", false, "Print the full record as JSON")
	archiveShowCmd.Flags().Bool("trace", false, "Replay the record as a JSONL trace")
}
