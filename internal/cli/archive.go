package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/trace"
)

// OpenArchive builds just the archive store from configuration, with its
// middleware applied. Archive commands never need a model or a task source.
func OpenArchive(cfg config.Config) (ports.ArchiveStore, func() error, error) {
	rt := &Runtime{Config: cfg}
	store, err := rt.buildArchive(cfg.Archive)
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	return store, rt.Close, nil
}

// ExecuteArchiveList prints one line per archived run, most recent first
// where the backend preserves order.
func ExecuteArchiveList(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := OpenArchive(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	ctx := context.Background()
	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tFINISHED\tTASKS\tGOAL")
	for _, id := range ids {
		record, err := store.Load(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t?\t?\t(unreadable: %v)\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			record.ID,
			record.Status,
			record.FinishedAt.Format(time.RFC3339),
			record.CompletedCount,
			record.TaskCount,
			truncate(record.Goal, 48),
		)
	}
	return w.Flush()
}

// ExecuteArchiveShow prints one archived run: a readable summary by default,
// the full record with asJSON, or the run's ledger replayed as trace lines
// with asTrace.
func ExecuteArchiveShow(configPath, runID string, asJSON, asTrace bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := OpenArchive(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	record, err := store.Load(context.Background(), runID)
	if err != nil {
		return err
	}

	switch {
	case asTrace:
		w := trace.NewWriter(os.Stdout, record.ID)
		entries := trace.RecordEntries(record)
		for i := range entries {
			if err := w.Append(&entries[i]); err != nil {
				return err
			}
		}
		return w.Close()
	case asJSON:
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	default:
		printRecordSummary(record)
		return nil
	}
}

// ExecuteArchiveRemove deletes one archived run. Unknown IDs are an error, so
// a typo does not pass silently.
func ExecuteArchiveRemove(configPath, runID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := OpenArchive(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	ctx := context.Background()
	if _, err := store.Load(ctx, runID); err != nil {
		return err
	}
	if err := store.Delete(ctx, runID); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", runID)
	return nil
}

func printRecordSummary(record *domain.RunRecord) {
	fmt.Printf("Run:         %s\n", record.ID)
	fmt.Printf("Goal:        %s\n", record.Goal)
	fmt.Printf("Status:      %s\n", record.Status)
	fmt.Printf("Started:     %s\n", record.StartedAt.Format(time.RFC3339))
	fmt.Printf("Finished:    %s (%s)\n",
		record.FinishedAt.Format(time.RFC3339),
		record.FinishedAt.Sub(record.StartedAt).Round(time.Millisecond))
	fmt.Printf("Tasks:       %d/%d completed\n", record.CompletedCount, record.TaskCount)
	fmt.Printf("Invocations: %d\n", record.Invocations)
	if record.ReportLocation != "" {
		fmt.Printf("Report:      %s\n", record.ReportLocation)
	}

	fmt.Println("\nPlan:")
	for _, line := range strings.Split(strings.TrimRight(record.Plan.String(), "\n"), "\n") {
		fmt.Printf("  %s\n", line)
	}

	if len(record.Notes) > 0 {
		fmt.Println("\nNotes:")
		for _, note := range record.Notes {
			fmt.Printf("  - %s\n", note)
		}
	}
	fmt.Printf("\nLedger: %d decisions, %d events, %d calls\n",
		len(record.Decisions), len(record.Timeline), len(record.Calls))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
