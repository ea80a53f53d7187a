package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	isync "github.com/offlinekit/recsync/internal/sync"
)

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset sync cursors",
		Long: `Drop the stored sync cursors so the next sync pulls a full snapshot.
Records and queued changes are untouched.

With --wipe, the entire local replica is dropped instead: records, queued
changes, and cursors. Unsynchronized local edits are lost. Wiping requires
--force.`,
		Args: cobra.NoArgs,
		RunE: runReset,
	}

	cmd.Flags().Bool("wipe", false, "drop the entire local replica, not just cursors")
	cmd.Flags().Bool("force", false, "confirm a destructive wipe")

	return cmd
}

func runReset(cmd *cobra.Command, _ []string) error {
	wipe, _ := cmd.Flags().GetBool("wipe")
	force, _ := cmd.Flags().GetBool("force")

	if wipe && !force {
		return errors.New("--wipe discards unsynchronized local edits; re-run with --force to confirm")
	}

	return withSession(func(ctx context.Context, s *isync.Session, _ *slog.Logger) error {
		if wipe {
			if err := s.WipeReplica(ctx); err != nil {
				return err
			}

			statusf("Local replica wiped. Next sync pulls a full snapshot.\n")

			return nil
		}

		if err := s.ResetCursors(ctx); err != nil {
			return err
		}

		statusf("Cursors reset. Next sync pulls a full snapshot.\n")

		return nil
	})
}
