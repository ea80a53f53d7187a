package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogWriter adapts slog output to t.Log so debug output lands in the
// test log.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{LocalID: "l1", Name: "groceries"}
	require.NoError(t, store.UpsertRecord(ctx, rec))
	assert.NotZero(t, rec.CreatedAt)
	assert.NotZero(t, rec.UpdatedAt)

	got, err := store.GetRecord(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "groceries", got.Name)
	assert.Empty(t, got.RemoteID)

	missing, err := store.GetRecord(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown local id should return nil without error")
}

func TestUpsertAssignsLocalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{RemoteID: "r1", Version: "v1", Name: "pulled"}
	require.NoError(t, store.UpsertRecord(ctx, rec))
	require.NotEmpty(t, rec.LocalID)

	got, err := store.GetRecordByRemoteID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.LocalID, got.LocalID)
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{LocalID: "l1", Name: "first"}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	created := rec.CreatedAt

	require.NoError(t, store.UpsertRecord(ctx, &Record{
		LocalID: "l1", Name: "second", CreatedAt: created,
	}))

	got, err := store.GetRecord(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, "second", got.Name)
}

func TestDeleteRecordByRemoteID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRecord(ctx, &Record{LocalID: "l1", RemoteID: "r1"}))

	removed, err := store.DeleteRecordByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.DeleteRecordByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, removed, "tombstone for an unknown record is a no-op")
}

func TestSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewStore(dbPath, testLogger(t))
	require.NoError(t, err)

	rec := &Record{LocalID: "l1", Name: "durable"}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	_, err = store.EnqueueOperation(ctx, OpInsert, rec)
	require.NoError(t, err)
	require.NoError(t, store.SaveCursor(ctx, "all", "tok-1"))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dbPath, testLogger(t))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetRecord(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "durable", got.Name)

	ops, err := reopened.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpInsert, ops[0].Kind)

	token, err := reopened.GetCursor(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestEnqueueCoalescing(t *testing.T) {
	type step struct {
		kind     OpKind
		remoteID string
	}

	tests := []struct {
		name     string
		steps    []step
		wantKind OpKind
		wantNone bool
	}{
		{
			name:     "insert then update stays insert",
			steps:    []step{{OpInsert, ""}, {OpUpdate, ""}},
			wantKind: OpInsert,
		},
		{
			name:     "insert then delete cancels out",
			steps:    []step{{OpInsert, ""}, {OpDelete, ""}},
			wantNone: true,
		},
		{
			name:     "update then update stays update",
			steps:    []step{{OpUpdate, "r1"}, {OpUpdate, "r1"}},
			wantKind: OpUpdate,
		},
		{
			name:     "update then delete becomes delete",
			steps:    []step{{OpUpdate, "r1"}, {OpDelete, "r1"}},
			wantKind: OpDelete,
		},
		{
			name:     "delete then delete stays delete",
			steps:    []step{{OpDelete, "r1"}, {OpDelete, "r1"}},
			wantKind: OpDelete,
		},
		{
			name:     "delete then recreate with remote id becomes update",
			steps:    []step{{OpDelete, "r1"}, {OpUpdate, "r1"}},
			wantKind: OpUpdate,
		},
		{
			name:     "delete for never-synced record with no pending insert is dropped",
			steps:    []step{{OpDelete, ""}},
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()

			for _, s := range tt.steps {
				_, err := store.EnqueueOperation(ctx, s.kind, &Record{
					LocalID: "l1", RemoteID: s.remoteID, Name: "x",
				})
				require.NoError(t, err)
			}

			ops, err := store.PendingOperations(ctx)
			require.NoError(t, err)

			if tt.wantNone {
				assert.Empty(t, ops)
				return
			}

			require.Len(t, ops, 1)
			assert.Equal(t, tt.wantKind, ops[0].Kind)
		})
	}
}

func TestEnqueueSupersedeKeepsSeqAndSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seq1, err := store.EnqueueOperation(ctx, OpInsert, &Record{LocalID: "l1", Name: "draft"})
	require.NoError(t, err)

	seq2, err := store.EnqueueOperation(ctx, OpUpdate, &Record{LocalID: "l1", Name: "final"})
	require.NoError(t, err)
	assert.Equal(t, seq1, seq2, "superseding keeps the original sequence number")

	ops, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "final", ops[0].Record.Name, "later write wins in the snapshot")
}

func TestEnqueueSeparateRecordsKeepOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.EnqueueOperation(ctx, OpInsert, &Record{LocalID: id, Name: id})
		require.NoError(t, err)
	}

	ops, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, ops[i].Record.LocalID)
	}
}

func TestResolveOperation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{LocalID: "l1", Name: "local"}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	seq, err := store.EnqueueOperation(ctx, OpInsert, rec)
	require.NoError(t, err)

	server := &Record{LocalID: "l1", RemoteID: "r1", Version: "v1", Name: "local"}
	require.NoError(t, store.ResolveOperation(ctx, seq, OutcomeCommitted, server))

	ops, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	got, err := store.GetRecord(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.RemoteID)
	assert.Equal(t, "v1", got.Version)
}

func TestResolveOperationDiscardLeavesCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{LocalID: "l1", Name: "kept locally"}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	seq, err := store.EnqueueOperation(ctx, OpInsert, rec)
	require.NoError(t, err)

	require.NoError(t, store.ResolveOperation(ctx, seq, OutcomeDiscarded, nil))

	got, err := store.GetRecord(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "kept locally", got.Name)
}

func TestResolveUnknownSeqFails(t *testing.T) {
	store := newTestStore(t)

	err := store.ResolveOperation(context.Background(), 999, OutcomeCommitted, nil)
	assert.Error(t, err)
}

func TestCursors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token, err := store.GetCursor(ctx, "all")
	require.NoError(t, err)
	assert.Empty(t, token, "missing cursor reads as empty token")

	require.NoError(t, store.SaveCursor(ctx, "all", "tok-1"))
	require.NoError(t, store.SaveCursor(ctx, "all", "tok-2"))
	require.NoError(t, store.SaveCursor(ctx, "archived", "tok-a"))

	token, err = store.GetCursor(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	cursors, err := store.ListCursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"all": "tok-2", "archived": "tok-a"}, cursors)

	require.NoError(t, store.DeleteCursor(ctx, "all"))

	token, err = store.GetCursor(ctx, "all")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestNewStoreCorruptFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("this is not a database"), 0o600))

	_, err := NewStore(dbPath, testLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreCorrupt, "unreadable state database must classify as corrupt")
}

func TestCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRecord(ctx, &Record{LocalID: "l1", Name: "persisted"}))
	require.NoError(t, store.Checkpoint())

	got, err := store.GetRecord(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestWipe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{LocalID: "l1", Name: "doomed"}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	_, err := store.EnqueueOperation(ctx, OpInsert, rec)
	require.NoError(t, err)
	require.NoError(t, store.SaveCursor(ctx, "all", "tok"))

	require.NoError(t, store.Wipe(ctx))

	records, err := store.ListRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	ops, err := store.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	cursors, err := store.ListCursors(ctx)
	require.NoError(t, err)
	assert.Empty(t, cursors)
}
