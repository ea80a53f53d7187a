package sync

import (
	"log/slog"

	"github.com/offlinekit/recsync/internal/remote"
)

// Decision is the resolver's verdict for a single rejected operation.
type Decision int

const (
	// DecisionOverwrite adopts the server snapshot as the new local truth
	// and drops the local mutation.
	DecisionOverwrite Decision = iota
	// DecisionRetain leaves the operation pending for the next sync pass.
	DecisionRetain
	// DecisionDiscard abandons the local operation unconditionally.
	DecisionDiscard
)

// String returns the decision name for logs and reports.
func (d Decision) String() string {
	switch d {
	case DecisionOverwrite:
		return "overwrite"
	case DecisionRetain:
		return "retain"
	case DecisionDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// ConflictPolicy tunes the resolver for the one case the fixed table leaves
// open: an update rejected without a server snapshot (the record was deleted
// server-side, or access was denied). Retaining it retries forever; discard
// gives up immediately.
type ConflictPolicy struct {
	DiscardUnresolvedUpdates bool
}

// Resolver decides what to do with operations the remote rejected during a
// push batch. It owns no state: given a rejected operation and the optional
// server snapshot, it returns a Decision. Applying the decision to the store
// is the engine's job.
//
// The policy is deliberately conservative. Updates are the only kind where
// "try again later" is safe without duplicate side effects, so an update
// rejected without a snapshot stays pending (unless the policy says
// otherwise). Rejected inserts are assumed invalid or duplicate; rejected
// deletes target records already gone or diverged. Both are discarded.
type Resolver struct {
	policy ConflictPolicy
	logger *slog.Logger
}

// NewResolver creates a Resolver with the given policy.
func NewResolver(policy ConflictPolicy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{policy: policy, logger: logger}
}

// Decide evaluates one rejected operation against the decision table:
//
//	update + snapshot    → overwrite
//	update + no snapshot → retain (or discard, per policy)
//	insert or delete     → discard
func (r *Resolver) Decide(op *PendingOp, snapshot *remote.Record) Decision {
	var d Decision

	switch {
	case op.Kind == OpUpdate && snapshot != nil:
		d = DecisionOverwrite
	case op.Kind == OpUpdate:
		d = DecisionRetain
		if r.policy.DiscardUnresolvedUpdates {
			d = DecisionDiscard
		}
	default:
		d = DecisionDiscard
	}

	r.logger.Info("conflict resolved",
		slog.Int64("seq", op.Seq),
		slog.String("kind", string(op.Kind)),
		slog.Bool("snapshot", snapshot != nil),
		slog.String("decision", d.String()),
	)

	return d
}
