package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/offlinekit/recsync/internal/remote"
)

// defaultQuery is the named query tracked when the config lists none.
const defaultQuery = "all"

// maxPullPages bounds change-feed pagination per query per cycle.
const maxPullPages = 10000

// SessionConfig holds the collaborators and options for NewSession.
type SessionConfig struct {
	DBPath  string         // path to the SQLite state database (":memory:" for tests)
	Remote  RemoteClient   // satisfied by *remote.Client
	Queries []string       // named queries to pull; defaults to ["all"]
	Policy  ConflictPolicy // resolver tuning
	Logger  *slog.Logger
}

// SyncReport summarizes the result of a single push/pull cycle.
// Per-operation rejections are absorbed into these counts; only
// session-level failures surface as errors from Synchronize.
type SyncReport struct {
	Duration time.Duration

	// Push phase.
	Pushed      int // pending operations attempted
	Committed   int // acknowledged by the remote
	Overwritten int // local mutation replaced by server snapshot
	Discarded   int // local operation abandoned
	Retained    int // left pending for the next pass

	// Pull phase.
	Pulled       int // change records received
	Upserted     int // records merged into the replica
	Removed      int // records removed by tombstones
	CursorResets int // expired cursors restarted from a full snapshot

	// Err carries the sync failure when the cycle ran best-effort on behalf
	// of a read (Get with SyncFirst) and was not allowed to abort it.
	Err error
}

// QueryOptions shapes a read over the local replica. Filter and Less are
// caller-supplied; the engine hardcodes no view.
type QueryOptions struct {
	Filter    func(*Record) bool      // nil includes everything
	Less      func(a, b *Record) bool // nil leaves order unspecified
	SyncFirst bool                    // best-effort Synchronize before reading
}

// Session binds the local store, the remote client, and the conflict
// resolver into the single entry point callers use. Construction is cheap;
// the store is opened lazily by Initialize, which every public operation
// calls first so callers never manage lifecycle separately.
//
// Synchronize is serialized per session: overlapping calls coalesce into the
// in-flight cycle and observe its result rather than interleaving two pushes
// against the log. Store access is internally synchronized, and the store is
// never locked across a remote round trip.
type Session struct {
	cfg      SessionConfig
	logger   *slog.Logger
	resolver *Resolver

	initOnce stdsync.Once
	initErr  error
	store    Store

	// newStore is injectable for tests that count constructions.
	newStore func(dbPath string, logger *slog.Logger) (Store, error)

	flight singleflight.Group
}

// NewSession creates an uninitialized Session. No I/O happens until
// Initialize (or any public operation) is called.
func NewSession(cfg *SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		cfg:      *cfg,
		logger:   logger,
		resolver: NewResolver(cfg.Policy, logger),
		newStore: func(dbPath string, l *slog.Logger) (Store, error) {
			return NewStore(dbPath, l)
		},
	}
}

// Initialize opens the local store exactly once. Idempotent and safe under
// concurrent first-call races: one initialization path executes, everyone
// else waits for and observes its result. A failed initialization is sticky
// for the session lifetime.
func (s *Session) Initialize(_ context.Context) error {
	s.initOnce.Do(func() {
		if s.cfg.Remote == nil {
			s.initErr = errors.New("sync: no remote client configured")
			return
		}

		store, err := s.newStore(s.cfg.DBPath, s.logger)
		if err != nil {
			s.initErr = fmt.Errorf("sync: initializing session: %w", err)
			return
		}

		s.store = store
		s.logger.Info("sync session ready", slog.String("db_path", s.cfg.DBPath))
	})

	return s.initErr
}

// Close releases the store. The session cannot be reused afterwards.
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}

	return s.store.Close()
}

// Save caches a record locally and enqueues the matching operation: insert
// for records the remote has never seen, update otherwise. Never touches the
// network; the change is visible to Query immediately and synchronized on
// the next Synchronize call.
func (s *Session) Save(ctx context.Context, rec *Record) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	if rec.LocalID == "" {
		rec.LocalID = uuid.NewString()
	}

	kind := OpUpdate
	if rec.RemoteID == "" {
		kind = OpInsert
	}

	if err := s.store.UpsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("sync: saving record: %w", err)
	}

	if _, err := s.store.EnqueueOperation(ctx, kind, rec); err != nil {
		return fmt.Errorf("sync: enqueueing %s: %w", kind, err)
	}

	return nil
}

// Delete removes a record from the local replica and enqueues a delete for
// the remote. A record the remote never saw just cancels out its pending
// insert.
func (s *Session) Delete(ctx context.Context, localID string) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	rec, err := s.store.GetRecord(ctx, localID)
	if err != nil {
		return fmt.Errorf("sync: deleting record: %w", err)
	}

	if rec == nil {
		return fmt.Errorf("sync: no record with local id %s", localID)
	}

	if err := s.store.DeleteRecord(ctx, localID); err != nil {
		return fmt.Errorf("sync: deleting record: %w", err)
	}

	if _, err := s.store.EnqueueOperation(ctx, OpDelete, rec); err != nil {
		return fmt.Errorf("sync: enqueueing delete: %w", err)
	}

	return nil
}

// Get reads records from the local replica, optionally running a
// best-effort Synchronize first. A sync failure never aborts the read; it is
// surfaced in the returned report's Err field instead. The returned error
// covers the read itself only.
func (s *Session) Get(ctx context.Context, opts QueryOptions) ([]*Record, *SyncReport, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, nil, err
	}

	var report *SyncReport

	if opts.SyncFirst {
		rep, syncErr := s.Synchronize(ctx)
		if rep == nil {
			rep = &SyncReport{}
		}

		rep.Err = syncErr
		report = rep
	}

	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, report, fmt.Errorf("sync: querying records: %w", err)
	}

	if opts.Filter != nil {
		filtered := records[:0]
		for _, rec := range records {
			if opts.Filter(rec) {
				filtered = append(filtered, rec)
			}
		}

		records = filtered
	}

	if opts.Less != nil {
		sort.SliceStable(records, func(i, j int) bool {
			return opts.Less(records[i], records[j])
		})
	}

	return records, report, nil
}

// Synchronize runs one push/pull cycle. Overlapping calls coalesce into the
// in-flight cycle via singleflight and share its report. Per-operation
// rejections are resolved internally and reported in the summary counts;
// only session-level failures (remote unreachable, store unusable) return a
// non-nil error — pending operations are never discarded by a failure.
func (s *Session) Synchronize(ctx context.Context) (*SyncReport, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	v, err, shared := s.flight.Do("synchronize", func() (any, error) {
		return s.runCycle(ctx)
	})

	if shared {
		s.logger.Debug("coalesced into in-flight sync cycle")
	}

	report, _ := v.(*SyncReport)

	return report, err
}

// runCycle executes the push phase followed by the pull phase. The pull
// proceeds even when the push had rejections; it is skipped only when the
// remote could not be reached at all. Cancellation stops initiating further
// calls but leaves already-applied mutations intact — sync is resumable,
// not atomic.
func (s *Session) runCycle(ctx context.Context) (*SyncReport, error) {
	start := time.Now()
	report := &SyncReport{}

	s.logger.Info("sync cycle starting")

	if err := s.push(ctx, report); err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	err := s.pull(ctx, report)

	report.Duration = time.Since(start)

	if err != nil {
		return report, err
	}

	// Consolidate the WAL after a successful cycle; failure is not worth
	// failing the sync over.
	if cpErr := s.store.Checkpoint(); cpErr != nil {
		s.logger.Warn("wal checkpoint failed", slog.Any("error", cpErr))
	}

	s.logger.Info("sync cycle complete",
		slog.Duration("duration", report.Duration),
		slog.Int("committed", report.Committed),
		slog.Int("overwritten", report.Overwritten),
		slog.Int("discarded", report.Discarded),
		slog.Int("retained", report.Retained),
		slog.Int("pulled", report.Pulled),
		slog.Int("removed", report.Removed),
	)

	return report, nil
}

// rejection pairs a pushed operation with the structured rejection it
// received, for resolution after the batch completes.
type rejection struct {
	op  *PendingOp
	err error
}

// push attempts every pending operation in log order. Rejections are
// collected and routed through the resolver after the loop finishes —
// resolving mid-batch would mutate the log while iterating it. A transport
// failure aborts the batch; everything still pending stays pending.
func (s *Session) push(ctx context.Context, report *SyncReport) error {
	ops, err := s.store.PendingOperations(ctx)
	if err != nil {
		return fmt.Errorf("sync: reading pending operations: %w", err)
	}

	report.Pushed = len(ops)

	if len(ops) == 0 {
		return nil
	}

	var rejections []rejection

	for _, op := range ops {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("sync: push canceled: %w", ctxErr)
		}

		server, pushErr := s.pushOne(ctx, op)

		switch {
		case pushErr == nil:
			var adopted *Record
			if server != nil {
				adopted = fromRemote(op.Record.LocalID, server)
			}

			if err := s.store.ResolveOperation(ctx, op.Seq, OutcomeCommitted, adopted); err != nil {
				return fmt.Errorf("sync: committing op %d: %w", op.Seq, err)
			}

			report.Committed++

		case remote.IsRejection(pushErr):
			rejections = append(rejections, rejection{op: op, err: pushErr})

		default:
			return fmt.Errorf("sync: pushing %s for %s: %w", op.Kind, op.Record.LocalID, pushErr)
		}
	}

	return s.resolveRejections(ctx, rejections, report)
}

// pushOne invokes the remote call matching the operation kind.
// Deletes return no server record.
func (s *Session) pushOne(ctx context.Context, op *PendingOp) (*remote.Record, error) {
	switch op.Kind {
	case OpInsert:
		return s.cfg.Remote.Create(ctx, op.Record.Name, op.Record.Done)
	case OpUpdate:
		return s.cfg.Remote.Update(ctx, op.Record.RemoteID, op.Record.Version, op.Record.Name, op.Record.Done)
	case OpDelete:
		return nil, s.cfg.Remote.Delete(ctx, op.Record.RemoteID, op.Record.Version)
	default:
		return nil, fmt.Errorf("sync: unknown operation kind %q", op.Kind)
	}
}

// resolveRejections applies the resolver's decision to each collected
// rejection.
func (s *Session) resolveRejections(ctx context.Context, rejections []rejection, report *SyncReport) error {
	for _, rj := range rejections {
		snapshot := remote.SnapshotOf(rj.err)

		switch s.resolver.Decide(rj.op, snapshot) {
		case DecisionOverwrite:
			adopted := fromRemote(rj.op.Record.LocalID, snapshot)
			if err := s.store.ResolveOperation(ctx, rj.op.Seq, OutcomeOverwritten, adopted); err != nil {
				return fmt.Errorf("sync: overwriting op %d: %w", rj.op.Seq, err)
			}

			report.Overwritten++

		case DecisionDiscard:
			if err := s.store.ResolveOperation(ctx, rj.op.Seq, OutcomeDiscarded, nil); err != nil {
				return fmt.Errorf("sync: discarding op %d: %w", rj.op.Seq, err)
			}

			report.Discarded++

		case DecisionRetain:
			report.Retained++
		}
	}

	return nil
}

// pull fetches remote changes for every tracked query and merges them into
// the replica, advancing each cursor after its batch applies.
func (s *Session) pull(ctx context.Context, report *SyncReport) error {
	for _, query := range s.queries() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("sync: pull canceled: %w", ctxErr)
		}

		if err := s.pullQuery(ctx, query, report); err != nil {
			return err
		}
	}

	return nil
}

// pullQuery pages through the change feed for one named query. An expired
// cursor (ErrGone) restarts the query from an empty token — a full resync —
// which is the only path besides explicit reset that rewinds a cursor.
func (s *Session) pullQuery(ctx context.Context, query string, report *SyncReport) error {
	token, err := s.store.GetCursor(ctx, query)
	if err != nil {
		return fmt.Errorf("sync: reading cursor for %q: %w", query, err)
	}

	for page := 0; ; page++ {
		if page >= maxPullPages {
			return fmt.Errorf("sync: pulling %q: exceeded %d pages", query, maxPullPages)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("sync: pull canceled: %w", ctxErr)
		}

		cp, err := s.cfg.Remote.Changes(ctx, query, token)
		if errors.Is(err, remote.ErrGone) {
			s.logger.Warn("cursor expired, performing full resync",
				slog.String("query", query))

			if delErr := s.store.DeleteCursor(ctx, query); delErr != nil {
				return fmt.Errorf("sync: resetting expired cursor for %q: %w", query, delErr)
			}

			report.CursorResets++
			token = ""

			cp, err = s.cfg.Remote.Changes(ctx, query, token)
		}

		if err != nil {
			return fmt.Errorf("sync: pulling %q: %w", query, err)
		}

		if err := s.applyChanges(ctx, cp, report); err != nil {
			return err
		}

		if cp.NextToken != "" {
			if err := s.store.SaveCursor(ctx, query, cp.NextToken); err != nil {
				return fmt.Errorf("sync: advancing cursor for %q: %w", query, err)
			}
		}

		if !cp.HasMore {
			return nil
		}

		token = cp.NextToken
	}
}

// applyChanges merges one change page into the replica: tombstones remove,
// everything else upserts. Pending operations are never touched — a pulled
// change updates the cached record while the log still replays the local
// mutation on the next push.
func (s *Session) applyChanges(ctx context.Context, cp *remote.ChangePage, report *SyncReport) error {
	for i := range cp.Records {
		change := &cp.Records[i]
		report.Pulled++

		if change.Deleted {
			removed, err := s.store.DeleteRecordByRemoteID(ctx, change.ID)
			if err != nil {
				return fmt.Errorf("sync: applying tombstone %s: %w", change.ID, err)
			}

			if removed {
				report.Removed++
			}

			continue
		}

		existing, err := s.store.GetRecordByRemoteID(ctx, change.ID)
		if err != nil {
			return fmt.Errorf("sync: merging change %s: %w", change.ID, err)
		}

		var localID string

		var createdAt int64

		if existing != nil {
			localID = existing.LocalID
			createdAt = existing.CreatedAt
		}

		rec := fromRemote(localID, change)
		rec.CreatedAt = createdAt

		if err := s.store.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("sync: merging change %s: %w", change.ID, err)
		}

		report.Upserted++
	}

	return nil
}

// PendingOperations exposes the current log for status display.
func (s *Session) PendingOperations(ctx context.Context) ([]*PendingOp, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	return s.store.PendingOperations(ctx)
}

// Cursors exposes the stored cursors for status display.
func (s *Session) Cursors(ctx context.Context) (map[string]string, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	return s.store.ListCursors(ctx)
}

// ResetCursors drops every stored cursor so the next Synchronize pulls a
// full snapshot per query. Records and pending operations are untouched.
func (s *Session) ResetCursors(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	cursors, err := s.store.ListCursors(ctx)
	if err != nil {
		return fmt.Errorf("sync: resetting cursors: %w", err)
	}

	for query := range cursors {
		if err := s.store.DeleteCursor(ctx, query); err != nil {
			return fmt.Errorf("sync: resetting cursor for %q: %w", query, err)
		}
	}

	return nil
}

// WipeReplica drops all records, pending operations, and cursors — the
// recovery path for a corrupt or diverged replica. Unsynchronized local
// changes are lost; the next Synchronize rebuilds from a full snapshot.
func (s *Session) WipeReplica(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	return s.store.Wipe(ctx)
}

// queries returns the tracked query names, defaulting when unconfigured.
func (s *Session) queries() []string {
	if len(s.cfg.Queries) > 0 {
		return s.cfg.Queries
	}

	return []string{defaultQuery}
}
