package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/recsync/internal/remote"
	isync "github.com/offlinekit/recsync/internal/sync"
)

// newLocalSession builds a session whose remote points at nothing. Commands
// that stay local (save, find, delete) never touch the network.
func newLocalSession(t *testing.T) *isync.Session {
	t.Helper()

	s := isync.NewSession(&isync.SessionConfig{
		DBPath: filepath.Join(t.TempDir(), "state.db"),
		Remote: remote.NewClient("http://127.0.0.1:0", nil, slog.Default()),
		Logger: slog.Default(),
	})

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func TestFindRecord(t *testing.T) {
	s := newLocalSession(t)
	ctx := context.Background()

	groceries := &isync.Record{LocalID: "aaaa1111", Name: "groceries"}
	laundry := &isync.Record{LocalID: "aaaa2222", Name: "laundry"}
	require.NoError(t, s.Save(ctx, groceries))
	require.NoError(t, s.Save(ctx, laundry))

	t.Run("exact id", func(t *testing.T) {
		rec, err := findRecord(ctx, s, "aaaa1111")
		require.NoError(t, err)
		assert.Equal(t, "groceries", rec.Name)
	})

	t.Run("unique prefix", func(t *testing.T) {
		rec, err := findRecord(ctx, s, "aaaa2")
		require.NoError(t, err)
		assert.Equal(t, "laundry", rec.Name)
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := findRecord(ctx, s, "aaaa")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "be more specific")
	})

	t.Run("exact name", func(t *testing.T) {
		rec, err := findRecord(ctx, s, "laundry")
		require.NoError(t, err)
		assert.Equal(t, "aaaa2222", rec.LocalID)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := findRecord(ctx, s, "zzzz")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no record matches")
	})
}
