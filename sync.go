package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	isync "github.com/offlinekit/recsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with the sync service",
		Long: `Run one sync cycle: push queued local changes, then pull remote
changes since the last cursor. Conflicts are resolved automatically; the
summary shows how each queued change ended up.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

func runSync(_ *cobra.Command, _ []string) error {
	return withSession(func(ctx context.Context, s *isync.Session, _ *slog.Logger) error {
		report, err := s.Synchronize(ctx)
		if err != nil {
			return err
		}

		return printReport(report)
	})
}

// printReport renders a sync summary, or the full report as JSON with --json.
func printReport(report *isync.SyncReport) error {
	if flagJSON {
		type view struct {
			DurationMS   int64 `json:"duration_ms"`
			Pushed       int   `json:"pushed"`
			Committed    int   `json:"committed"`
			Overwritten  int   `json:"overwritten"`
			Discarded    int   `json:"discarded"`
			Retained     int   `json:"retained"`
			Pulled       int   `json:"pulled"`
			Upserted     int   `json:"upserted"`
			Removed      int   `json:"removed"`
			CursorResets int   `json:"cursor_resets"`
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(view{
			DurationMS:   report.Duration.Milliseconds(),
			Pushed:       report.Pushed,
			Committed:    report.Committed,
			Overwritten:  report.Overwritten,
			Discarded:    report.Discarded,
			Retained:     report.Retained,
			Pulled:       report.Pulled,
			Upserted:     report.Upserted,
			Removed:      report.Removed,
			CursorResets: report.CursorResets,
		})
	}

	fmt.Printf("Pushed %d (%d committed, %d overwritten, %d discarded, %d retained)\n",
		report.Pushed, report.Committed, report.Overwritten, report.Discarded, report.Retained)
	fmt.Printf("Pulled %d (%d merged, %d removed)\n",
		report.Pulled, report.Upserted, report.Removed)

	if report.CursorResets > 0 {
		fmt.Printf("Cursors reset: %d (full resync)\n", report.CursorResets)
	}

	statusf("Completed in %s\n", report.Duration.Round(time.Millisecond))

	return nil
}
