package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	isync "github.com/offlinekit/recsync/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued changes and sync cursors",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(_ *cobra.Command, _ []string) error {
	return withSession(func(ctx context.Context, s *isync.Session, _ *slog.Logger) error {
		ops, err := s.PendingOperations(ctx)
		if err != nil {
			return err
		}

		cursors, err := s.Cursors(ctx)
		if err != nil {
			return err
		}

		if flagJSON {
			return printStatusJSON(ops, cursors)
		}

		printStatusText(ops, cursors)

		return nil
	})
}

func printStatusJSON(ops []*isync.PendingOp, cursors map[string]string) error {
	type opView struct {
		Seq    int64  `json:"seq"`
		Kind   string `json:"kind"`
		ID     string `json:"id"`
		Name   string `json:"name"`
		Queued int64  `json:"queued_at"`
	}

	out := struct {
		Pending []opView          `json:"pending"`
		Cursors map[string]string `json:"cursors"`
	}{
		Pending: make([]opView, 0, len(ops)),
		Cursors: cursors,
	}

	for _, op := range ops {
		out.Pending = append(out.Pending, opView{
			Seq:    op.Seq,
			Kind:   string(op.Kind),
			ID:     op.Record.LocalID,
			Name:   op.Record.Name,
			Queued: op.QueuedAt,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printStatusText(ops []*isync.PendingOp, cursors map[string]string) {
	if len(ops) == 0 {
		statusf("No queued changes.\n")
	} else {
		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			rows = append(rows, []string{
				shortID(op.Record.LocalID), string(op.Kind),
				op.Record.Name, formatTime(op.QueuedAt),
			})
		}

		printTable(os.Stdout, []string{"ID", "CHANGE", "NAME", "QUEUED"}, rows)
	}

	if len(cursors) == 0 {
		statusf("No sync cursors — next sync pulls a full snapshot.\n")
		return
	}

	queries := make([]string, 0, len(cursors))
	for q := range cursors {
		queries = append(queries, q)
	}

	sort.Strings(queries)

	rows := make([][]string, 0, len(queries))
	for _, q := range queries {
		rows = append(rows, []string{q, cursors[q]})
	}

	printTable(os.Stdout, []string{"QUERY", "CURSOR"}, rows)
}
