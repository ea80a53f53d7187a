// Package sync implements the offline-first synchronization engine for
// recsync. It provides the durable local store (records, pending-operation
// log, incremental cursors), the push/pull cycle, and conflict resolution —
// the full sync pipeline behind the CLI.
package sync

import (
	"context"
	"time"

	"github.com/offlinekit/recsync/internal/remote"
)

// OpKind identifies the kind of pending local operation.
type OpKind string

// Operation kinds as stored in the pending_ops kind column.
const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Record is a synchronized domain entity in the local replica.
//
// LocalID is assigned on this device and never changes; RemoteID is assigned
// by the service on the first accepted insert and is empty until then. A
// record with an empty RemoteID exists only locally and pending. Version is
// the opaque optimistic-concurrency token the service advances on every
// accepted mutation.
type Record struct {
	LocalID  string
	RemoteID string
	Version  string

	Name string
	Done bool

	// Row metadata (Unix nanoseconds).
	CreatedAt int64
	UpdatedAt int64
}

// PendingOp is a locally queued mutation not yet acknowledged by the remote.
// The Record field is the snapshot taken at enqueue time; the log holds at
// most one unresolved operation per record (later enqueues supersede it).
type PendingOp struct {
	Seq      int64
	Kind     OpKind
	Record   Record
	QueuedAt int64
}

// OpOutcome states how a pending operation was resolved.
type OpOutcome int

// Resolution outcomes for ResolveOperation.
const (
	// OutcomeCommitted: the remote acknowledged the operation. The server's
	// authoritative copy (id, version) is adopted into the cache.
	OutcomeCommitted OpOutcome = iota
	// OutcomeOverwritten: the remote rejected the operation and its snapshot
	// replaces the cached record; the local mutation is dropped.
	OutcomeOverwritten
	// OutcomeDiscarded: the local operation is abandoned; the cache is left
	// as-is.
	OutcomeDiscarded
)

// String returns the outcome name for logs and reports.
func (o OpOutcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeOverwritten:
		return "overwritten"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Store is the interface for the durable local replica. All engine components
// operate against this interface rather than the concrete SQLite
// implementation.
type Store interface {
	// Records
	GetRecord(ctx context.Context, localID string) (*Record, error)
	GetRecordByRemoteID(ctx context.Context, remoteID string) (*Record, error)
	UpsertRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, localID string) error
	DeleteRecordByRemoteID(ctx context.Context, remoteID string) (bool, error)
	ListRecords(ctx context.Context) ([]*Record, error)

	// Pending-operation log
	EnqueueOperation(ctx context.Context, kind OpKind, rec *Record) (int64, error)
	PendingOperations(ctx context.Context) ([]*PendingOp, error)
	ResolveOperation(ctx context.Context, seq int64, outcome OpOutcome, server *Record) error

	// Incremental cursors
	GetCursor(ctx context.Context, query string) (string, error)
	SaveCursor(ctx context.Context, query, token string) error
	DeleteCursor(ctx context.Context, query string) error
	ListCursors(ctx context.Context) (map[string]string, error)

	// Maintenance
	Wipe(ctx context.Context) error
	Checkpoint() error
	Close() error
}

// RemoteClient is the abstract capability set the engine consumes. Defined at
// the consumer per the "accept interfaces, return structs" convention;
// satisfied by *remote.Client, or by a fake in tests.
type RemoteClient interface {
	Create(ctx context.Context, name string, done bool) (*remote.Record, error)
	Update(ctx context.Context, id, version, name string, done bool) (*remote.Record, error)
	Delete(ctx context.Context, id, version string) error
	Changes(ctx context.Context, query, token string) (*remote.ChangePage, error)
}

// Compile-time check that the HTTP client satisfies the engine contract.
var _ RemoteClient = (*remote.Client)(nil)

// NowNano returns the current time as Unix nanoseconds. All internal
// timestamps use int64 nanoseconds; conversion happens at boundaries only.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// fromRemote converts a wire record into a domain record bound to the given
// local identity. Row metadata is stamped by the store on upsert.
func fromRemote(localID string, r *remote.Record) *Record {
	return &Record{
		LocalID:  localID,
		RemoteID: r.ID,
		Version:  r.Version,
		Name:     r.Name,
		Done:     r.Done,
	}
}
