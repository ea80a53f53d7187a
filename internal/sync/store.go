package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	// Pure-Go SQLite driver (no CGO), registers as "sqlite".
	_ "modernc.org/sqlite"
)

// ErrStoreCorrupt indicates the local state database could not be opened or
// migrated. Fatal for the session; callers may wipe the cache and force a
// full resync from empty cursors.
var ErrStoreCorrupt = errors.New("sync: state database unreadable")

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// SQLiteStore implements the Store interface using an embedded SQLite
// database with WAL mode. All replica state (records, pending-operation log,
// incremental cursors) is persisted here and survives process restarts.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	recordStmts recordStatements
	opStmts     opStatements
	cursorStmts cursorStatements
}

type recordStatements struct {
	get, getByRemote, upsert, delete, deleteByRemote, list *sql.Stmt
}

type opStatements struct {
	find, insert, supersede, deleteBySeq, list *sql.Stmt
}

type cursorStatements struct {
	get, save, delete, list *sql.Stmt
}

// NewStore creates a SQLiteStore, opening the database at dbPath, applying
// migrations, and preparing all repeated statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening sync state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStoreCorrupt, err)
	}

	// Single connection: SQLite is single-writer, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: prepare statements: %w", ErrStoreCorrupt, err)
	}

	logger.Info("sync state database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---

// Record queries.
const (
	sqlRecordColumns = `local_id, remote_id, version, name, done, created_at, updated_at`

	sqlGetRecord = `SELECT ` + sqlRecordColumns + ` FROM records WHERE local_id = ?`

	sqlGetRecordByRemote = `SELECT ` + sqlRecordColumns + ` FROM records WHERE remote_id = ?`

	sqlUpsertRecord = `INSERT INTO records (` + sqlRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			remote_id  = excluded.remote_id,
			version    = excluded.version,
			name       = excluded.name,
			done       = excluded.done,
			updated_at = excluded.updated_at`

	sqlDeleteRecord = `DELETE FROM records WHERE local_id = ?`

	sqlDeleteRecordByRemote = `DELETE FROM records WHERE remote_id = ?`

	sqlListRecords = `SELECT ` + sqlRecordColumns + ` FROM records`
)

// Pending-operation queries.
const (
	sqlFindOp = `SELECT seq, kind FROM pending_ops WHERE local_id = ?`

	sqlInsertOp = `INSERT INTO pending_ops
		(kind, local_id, remote_id, version, name, done, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlSupersedeOp = `UPDATE pending_ops
		SET kind = ?, remote_id = ?, version = ?, name = ?, done = ?, queued_at = ?
		WHERE seq = ?`

	sqlDeleteOpBySeq = `DELETE FROM pending_ops WHERE seq = ?`

	sqlListOps = `SELECT seq, kind, local_id, remote_id, version, name, done, queued_at
		FROM pending_ops ORDER BY seq`
)

// Cursor queries.
const (
	sqlGetCursor = `SELECT token FROM cursors WHERE query = ?` //nolint:gosec // SQL column, not a credential

	sqlSaveCursor = `INSERT INTO cursors (query, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(query) DO UPDATE
		SET token = excluded.token, updated_at = excluded.updated_at`

	sqlDeleteCursor = `DELETE FROM cursors WHERE query = ?`

	sqlListCursors = `SELECT query, token FROM cursors ORDER BY query`
)

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *SQLiteStore) prepareAllStatements(ctx context.Context) error {
	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.recordStmts.get, sqlGetRecord, "getRecord"},
		{&s.recordStmts.getByRemote, sqlGetRecordByRemote, "getRecordByRemote"},
		{&s.recordStmts.upsert, sqlUpsertRecord, "upsertRecord"},
		{&s.recordStmts.delete, sqlDeleteRecord, "deleteRecord"},
		{&s.recordStmts.deleteByRemote, sqlDeleteRecordByRemote, "deleteRecordByRemote"},
		{&s.recordStmts.list, sqlListRecords, "listRecords"},
	}); err != nil {
		return err
	}

	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.opStmts.find, sqlFindOp, "findOp"},
		{&s.opStmts.insert, sqlInsertOp, "insertOp"},
		{&s.opStmts.supersede, sqlSupersedeOp, "supersedeOp"},
		{&s.opStmts.deleteBySeq, sqlDeleteOpBySeq, "deleteOpBySeq"},
		{&s.opStmts.list, sqlListOps, "listOps"},
	}); err != nil {
		return err
	}

	return prepareAll(ctx, s.db, []stmtDef{
		{&s.cursorStmts.get, sqlGetCursor, "getCursor"},
		{&s.cursorStmts.save, sqlSaveCursor, "saveCursor"},
		{&s.cursorStmts.delete, sqlDeleteCursor, "deleteCursor"},
		{&s.cursorStmts.list, sqlListCursors, "listCursors"},
	})
}

// --- Record scanning helpers ---

// scanRecord scans a full record row into a Record struct.
func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	rec := &Record{}

	err := row.Scan(
		&rec.LocalID, &rec.RemoteID, &rec.Version,
		&rec.Name, &rec.Done, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// --- Record methods ---

// GetRecord retrieves a single record by local ID.
// Returns (nil, nil) if no record exists — callers use the nil record to
// distinguish "unknown" from "cached".
func (s *SQLiteStore) GetRecord(ctx context.Context, localID string) (*Record, error) {
	rec, err := scanRecord(s.recordStmts.get.QueryRowContext(ctx, localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", localID, err)
	}

	return rec, nil
}

// GetRecordByRemoteID retrieves a single record by its server-assigned ID.
// Returns (nil, nil) if no record with that remote ID is cached.
func (s *SQLiteStore) GetRecordByRemoteID(ctx context.Context, remoteID string) (*Record, error) {
	rec, err := scanRecord(s.recordStmts.getByRemote.QueryRowContext(ctx, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get record by remote id %s: %w", remoteID, err)
	}

	return rec, nil
}

// UpsertRecord inserts or replaces the cached copy of a record. Pending
// operations are never touched. A missing LocalID is assigned here so pulled
// records get a local identity on first sight.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *Record) error {
	if rec.LocalID == "" {
		rec.LocalID = uuid.NewString()
	}

	now := NowNano()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	s.logger.Debug("upserting record",
		"local_id", rec.LocalID, "remote_id", rec.RemoteID, "name", rec.Name)

	_, err := s.recordStmts.upsert.ExecContext(ctx,
		rec.LocalID, rec.RemoteID, rec.Version,
		rec.Name, rec.Done, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.LocalID, err)
	}

	return nil
}

// DeleteRecord removes a cached record by local ID. The pending-operation
// log is not touched.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, localID string) error {
	s.logger.Debug("deleting record", "local_id", localID)

	_, err := s.recordStmts.delete.ExecContext(ctx, localID)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", localID, err)
	}

	return nil
}

// DeleteRecordByRemoteID removes a cached record by its server-assigned ID.
// Returns whether a row was removed — tombstones for never-seen records are
// a no-op.
func (s *SQLiteStore) DeleteRecordByRemoteID(ctx context.Context, remoteID string) (bool, error) {
	s.logger.Debug("deleting record by remote id", "remote_id", remoteID)

	result, err := s.recordStmts.deleteByRemote.ExecContext(ctx, remoteID)
	if err != nil {
		return false, fmt.Errorf("delete record by remote id %s: %w", remoteID, err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("delete record by remote id %s: rows affected: %w", remoteID, rowsErr)
	}

	return affected > 0, nil
}

// ListRecords returns all cached records in unspecified order. Predicate
// filtering and ordering are applied by the caller.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]*Record, error) {
	rows, err := s.recordStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}

	return records, nil
}

// --- Pending-operation log ---

// EnqueueOperation appends a pending operation snapshotting rec, coalescing
// with any unresolved operation for the same record so the log never holds
// stale intermediate states:
//
//	none    + any    → new operation
//	insert  + write  → still insert, latest snapshot
//	insert  + delete → both removed (the record never reached the server)
//	update  + update → latest snapshot
//	update  + delete → delete
//	delete  + write  → insert or update depending on remote identity
//
// Returns the sequence number of the resulting operation, or 0 when the
// enqueue canceled out an unsent insert or had nothing left to replay.
func (s *SQLiteStore) EnqueueOperation(ctx context.Context, kind OpKind, rec *Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s for %s: begin tx: %w", kind, rec.LocalID, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		existingSeq  int64
		existingKind string
	)

	err = tx.StmtContext(ctx, s.opStmts.find).QueryRowContext(ctx, rec.LocalID).
		Scan(&existingSeq, &existingKind)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// A delete for a record the server never saw, with no pending insert
		// to cancel, has nothing to replay.
		if kind == OpDelete && rec.RemoteID == "" {
			return 0, tx.Commit()
		}

		res, execErr := tx.StmtContext(ctx, s.opStmts.insert).ExecContext(ctx,
			string(kind), rec.LocalID, rec.RemoteID, rec.Version,
			rec.Name, rec.Done, NowNano(),
		)
		if execErr != nil {
			return 0, fmt.Errorf("enqueue %s for %s: %w", kind, rec.LocalID, execErr)
		}

		seq, idErr := res.LastInsertId()
		if idErr != nil {
			return 0, fmt.Errorf("enqueue %s for %s: last insert id: %w", kind, rec.LocalID, idErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return 0, fmt.Errorf("enqueue %s for %s: commit: %w", kind, rec.LocalID, commitErr)
		}

		s.logger.Debug("operation enqueued",
			"seq", seq, "kind", kind, "local_id", rec.LocalID)

		return seq, nil

	case err != nil:
		return 0, fmt.Errorf("enqueue %s for %s: find existing: %w", kind, rec.LocalID, err)
	}

	newKind, drop := supersedeKind(OpKind(existingKind), kind, rec.RemoteID)

	if drop {
		if _, execErr := tx.StmtContext(ctx, s.opStmts.deleteBySeq).ExecContext(ctx, existingSeq); execErr != nil {
			return 0, fmt.Errorf("enqueue %s for %s: drop canceled op: %w", kind, rec.LocalID, execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return 0, fmt.Errorf("enqueue %s for %s: commit: %w", kind, rec.LocalID, commitErr)
		}

		s.logger.Debug("operation canceled out",
			"seq", existingSeq, "local_id", rec.LocalID)

		return 0, nil
	}

	_, err = tx.StmtContext(ctx, s.opStmts.supersede).ExecContext(ctx,
		string(newKind), rec.RemoteID, rec.Version, rec.Name, rec.Done,
		NowNano(), existingSeq,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s for %s: supersede: %w", kind, rec.LocalID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("enqueue %s for %s: commit: %w", kind, rec.LocalID, err)
	}

	s.logger.Debug("operation superseded",
		"seq", existingSeq, "kind", newKind, "local_id", rec.LocalID)

	return existingSeq, nil
}

// supersedeKind applies the last-write-wins coalescing rules. drop means
// the existing operation and the new one cancel out entirely.
func supersedeKind(existing, incoming OpKind, remoteID string) (kind OpKind, drop bool) {
	switch existing {
	case OpInsert:
		if incoming == OpDelete {
			return "", true
		}

		return OpInsert, false

	case OpDelete:
		if incoming == OpDelete {
			return OpDelete, false
		}

		if remoteID == "" {
			return OpInsert, false
		}

		return OpUpdate, false

	default: // update
		if incoming == OpDelete {
			return OpDelete, false
		}

		return OpUpdate, false
	}
}

// PendingOperations returns the log of not-yet-resolved operations in
// enqueue order. Re-reading yields the same sequence until the log mutates.
func (s *SQLiteStore) PendingOperations(ctx context.Context) ([]*PendingOp, error) {
	rows, err := s.opStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []*PendingOp

	for rows.Next() {
		op := &PendingOp{}

		var kind string

		err := rows.Scan(
			&op.Seq, &kind, &op.Record.LocalID, &op.Record.RemoteID,
			&op.Record.Version, &op.Record.Name, &op.Record.Done, &op.QueuedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending op row: %w", err)
		}

		op.Kind = OpKind(kind)
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending op rows: %w", err)
	}

	return ops, nil
}

// ResolveOperation removes an operation from the log and, when a server
// snapshot is supplied (Committed adoption or Overwritten), replaces the
// cached record with it atomically.
func (s *SQLiteStore) ResolveOperation(ctx context.Context, seq int64, outcome OpOutcome, server *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolve op %d: begin tx: %w", seq, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.StmtContext(ctx, s.opStmts.deleteBySeq).ExecContext(ctx, seq)
	if err != nil {
		return fmt.Errorf("resolve op %d: %w", seq, err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("resolve op %d: rows affected: %w", seq, rowsErr)
	}

	if affected == 0 {
		return fmt.Errorf("resolve op %d: no such pending operation", seq)
	}

	if server != nil {
		now := NowNano()
		if server.CreatedAt == 0 {
			server.CreatedAt = now
		}

		server.UpdatedAt = now

		_, err = tx.StmtContext(ctx, s.recordStmts.upsert).ExecContext(ctx,
			server.LocalID, server.RemoteID, server.Version,
			server.Name, server.Done, server.CreatedAt, server.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("resolve op %d: adopt snapshot: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("resolve op %d: commit: %w", seq, err)
	}

	s.logger.Debug("operation resolved",
		"seq", seq, "outcome", outcome.String(), "adopted", server != nil)

	return nil
}

// --- Incremental cursors ---

// GetCursor retrieves the stored continuation token for a named query.
// Returns empty string if no cursor exists (full snapshot on next pull).
func (s *SQLiteStore) GetCursor(ctx context.Context, query string) (string, error) {
	var token string

	err := s.cursorStmts.get.QueryRowContext(ctx, query).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("get cursor %s: %w", query, err)
	}

	return token, nil
}

// SaveCursor persists a continuation token for a named query. Only call
// after the corresponding pull batch has been applied.
func (s *SQLiteStore) SaveCursor(ctx context.Context, query, token string) error {
	s.logger.Debug("saving cursor", "query", query)

	_, err := s.cursorStmts.save.ExecContext(ctx, query, token, NowNano())
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", query, err)
	}

	return nil
}

// DeleteCursor removes the cursor for a named query, forcing a full
// snapshot on the next pull (e.g. after HTTP 410).
func (s *SQLiteStore) DeleteCursor(ctx context.Context, query string) error {
	s.logger.Debug("deleting cursor", "query", query)

	_, err := s.cursorStmts.delete.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete cursor %s: %w", query, err)
	}

	return nil
}

// ListCursors returns all stored cursors keyed by query name.
func (s *SQLiteStore) ListCursors(ctx context.Context) (map[string]string, error) {
	rows, err := s.cursorStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	cursors := make(map[string]string)

	for rows.Next() {
		var query, token string
		if err := rows.Scan(&query, &token); err != nil {
			return nil, fmt.Errorf("scan cursor row: %w", err)
		}

		cursors[query] = token
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursor rows: %w", err)
	}

	return cursors, nil
}

// --- Maintenance ---

// Wipe removes all records, pending operations, and cursors. Used for the
// corruption recovery path: drop the cache and force a full resync.
func (s *SQLiteStore) Wipe(ctx context.Context) error {
	s.logger.Warn("wiping local replica")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("wipe: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"pending_ops", "records", "cursors"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("wipe: commit: %w", err)
	}

	return nil
}

// Checkpoint forces a WAL checkpoint to consolidate the WAL file into the
// main database.
func (s *SQLiteStore) Checkpoint() error {
	s.logger.Debug("running WAL checkpoint")

	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sync state database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *SQLiteStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.recordStmts.get, s.recordStmts.getByRemote, s.recordStmts.upsert,
		s.recordStmts.delete, s.recordStmts.deleteByRemote, s.recordStmts.list,
		s.opStmts.find, s.opStmts.insert, s.opStmts.supersede,
		s.opStmts.deleteBySeq, s.opStmts.list,
		s.cursorStmts.get, s.cursorStmts.save,
		s.cursorStmts.delete, s.cursorStmts.list,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
