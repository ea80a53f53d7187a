package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	isync "github.com/offlinekit/recsync/internal/sync"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a record",
		Long: `Add a record to the local replica. The record is queued for upload
and reaches the sync service on the next 'recsync sync'.`,
		Args: cobra.ExactArgs(1),
		RunE: runAdd,
	}

	cmd.Flags().Bool("done", false, "create the record already marked done")

	return cmd
}

func newDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id|name>",
		Short: "Mark a record done",
		Args:  cobra.ExactArgs(1),
		RunE:  runDone,
	}

	cmd.Flags().Bool("undo", false, "mark the record not done instead")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id|name>",
		Short: "Delete a record",
		Long: `Delete a record from the local replica and queue the deletion for the
sync service. A record that never synced is simply removed.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List records",
		Args:    cobra.NoArgs,
		RunE:    runList,
	}

	cmd.Flags().BoolP("all", "a", false, "include records marked done")
	cmd.Flags().Bool("sync", false, "synchronize before listing (best effort)")
	cmd.Flags().String("sort", "name", "sort order: name or updated")

	return cmd
}

func runAdd(cmd *cobra.Command, args []string) error {
	done, _ := cmd.Flags().GetBool("done")

	return withSession(func(ctx context.Context, s *isync.Session, _ *slog.Logger) error {
		rec := &isync.Record{Name: args[0], Done: done}
		if err := s.Save(ctx, rec); err != nil {
			return err
		}

		statusf("Added %s (%s)\n", rec.Name, shortID(rec.LocalID))

		return nil
	})
}

func runDone(cmd *cobra.Command, args []string) error {
	undo, _ := cmd.Flags().GetBool("undo")

	return withSession(func(ctx context.Context, s *isync.Session, _ *slog.Logger) error {
		rec, err := findRecord(ctx, s, args[0])
		if err != nil {
			return err
		}

		rec.Done = !undo
		if err := s.Save(ctx, rec); err != nil {
			return err
		}

		verb := "Done"
		if undo {
			verb = "Reopened"
		}

		statusf("%s: %s\n", verb, rec.Name)

		return nil
	})
}

func runRm(_ *cobra.Command, args []string) error {
	return withSession(func(ctx context.Context, s *isync.Session, _ *slog.Logger) error {
		rec, err := findRecord(ctx, s, args[0])
		if err != nil {
			return err
		}

		if err := s.Delete(ctx, rec.LocalID); err != nil {
			return err
		}

		statusf("Deleted %s\n", rec.Name)

		return nil
	})
}

func runList(cmd *cobra.Command, _ []string) error {
	all, _ := cmd.Flags().GetBool("all")
	syncFirst, _ := cmd.Flags().GetBool("sync")
	sortOrder, _ := cmd.Flags().GetString("sort")

	less := isync.ByName

	switch sortOrder {
	case "name":
	case "updated":
		less = isync.ByUpdated
	default:
		return fmt.Errorf("unknown sort order %q (want name or updated)", sortOrder)
	}

	return withSession(func(ctx context.Context, s *isync.Session, logger *slog.Logger) error {
		opts := isync.QueryOptions{
			Less:      less,
			SyncFirst: syncFirst || resolvedCfg.Sync.SyncOnRead,
		}
		if !all {
			opts.Filter = isync.NotDone
		}

		records, report, err := s.Get(ctx, opts)
		if err != nil {
			return err
		}

		if report != nil && report.Err != nil {
			logger.Warn("sync before listing failed, showing local replica",
				slog.Any("error", report.Err))
		}

		return printRecords(records)
	})
}

// printRecords renders records as a table, or JSON with --json.
func printRecords(records []*isync.Record) error {
	if flagJSON {
		type row struct {
			ID       string `json:"id"`
			RemoteID string `json:"remote_id,omitempty"`
			Name     string `json:"name"`
			Done     bool   `json:"done"`
			Synced   bool   `json:"synced"`
		}

		rows := make([]row, 0, len(records))
		for _, rec := range records {
			rows = append(rows, row{
				ID:       rec.LocalID,
				RemoteID: rec.RemoteID,
				Name:     rec.Name,
				Done:     rec.Done,
				Synced:   rec.RemoteID != "",
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(rows)
	}

	if len(records) == 0 {
		statusf("No records.\n")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		synced := "pending"
		if rec.RemoteID != "" {
			synced = "synced"
		}

		rows = append(rows, []string{
			shortID(rec.LocalID), doneMark(rec.Done), rec.Name,
			synced, formatTime(rec.UpdatedAt),
		})
	}

	printTable(os.Stdout, []string{"ID", "✓", "NAME", "STATE", "UPDATED"}, rows)

	return nil
}

// findRecord resolves a user-supplied selector to a single record: exact
// local id, unique id prefix, or exact name, in that order.
func findRecord(ctx context.Context, s *isync.Session, selector string) (*isync.Record, error) {
	records, _, err := s.Get(ctx, isync.QueryOptions{})
	if err != nil {
		return nil, err
	}

	var prefixMatches, nameMatches []*isync.Record

	for _, rec := range records {
		if rec.LocalID == selector {
			return rec, nil
		}

		if strings.HasPrefix(rec.LocalID, selector) {
			prefixMatches = append(prefixMatches, rec)
		}

		if rec.Name == selector {
			nameMatches = append(nameMatches, rec)
		}
	}

	for _, matches := range [][]*isync.Record{prefixMatches, nameMatches} {
		switch len(matches) {
		case 1:
			return matches[0], nil
		case 0:
		default:
			return nil, fmt.Errorf("%q matches %d records, be more specific", selector, len(matches))
		}
	}

	return nil, fmt.Errorf("no record matches %q", selector)
}
