// Package localstate maintains the pending local change snapshot and the
// mirror of every remote snapshot ever observed, storing both as rows in
// the row store under the reserved "isLocalSnapshot" flag.
//
// A compact stamped view of local state drives reconciliation: rather
// than a SQL-backed snapshot query, the mirror is kept as
// rowstore-backed SnapshotEntry rows.
package localstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftsync/driftsync/internal/rowstore"
	"github.com/driftsync/driftsync/internal/syncmodel"
)

// mirrorContextSuffix namespaces snapshot mirror rows away from application
// entities inside the same row store, so LocalState can share the rowstore
// instance the Facade uses without key collisions.
const mirrorContextSuffix = "__snapshots"

// LocalState tracks the pending local snapshot and the mirror of
// remote snapshots already applied.
type LocalState struct {
	rows    rowstore.Store
	ctx     string // the entity context this instance is pinned to
	mirrorC string
	log     *logrus.Entry
}

// New pins a LocalState instance to entityCtx, per SPEC_FULL.md §9: one
// Syncer/Facade/LocalState instance handles exactly one entity context.
func New(rows rowstore.Store, entityCtx string) *LocalState {
	return &LocalState{
		rows:    rows,
		ctx:     entityCtx,
		mirrorC: entityCtx + mirrorContextSuffix,
		log:     logrus.WithField("component", "localstate").WithField("context", entityCtx),
	}
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// RecordChange loads or creates the pending snapshot, supersedes any
// existing change for id, appends the new one, and persists it.
func (l *LocalState) RecordChange(ctx context.Context, op, id string) error {
	pending, err := l.loadPendingLocked(ctx)
	if err != nil {
		return err
	}
	if pending == nil {
		pending = &syncmodel.SnapshotEntry{
			ID:                  syncmodel.NewID(),
			Context:             l.ctx,
			DateCreated:         nowISO(),
			ChangeSetStorageIDs: nil,
			IsLocalSnapshot:     true,
		}
	}

	changes, err := l.decodeChanges(pending)
	if err != nil {
		return err
	}

	filtered := changes[:0]
	for _, c := range changes {
		if c.ID != id {
			filtered = append(filtered, c)
		}
	}
	filtered = append(filtered, syncmodel.SyncChange{Operation: op, ID: id})

	if len(filtered) > 0 {
		pending.DateModified = nowISO()
	}

	return l.persistPending(ctx, pending, filtered)
}

// pendingRow is the on-disk shape of a mirror/pending row: the
// SnapshotEntry plus, for pending snapshots only, the not-yet-published
// change list (changeSetStorageIds stays empty for a pending snapshot
// until it is published).
type pendingRow struct {
	syncmodel.SnapshotEntry
	Changes []syncmodel.SyncChange `json:"changes,omitempty"`
}

func (l *LocalState) decodeChanges(entry *syncmodel.SnapshotEntry) ([]syncmodel.SyncChange, error) {
	raw, err := l.rows.Get(context.Background(), l.mirrorC, entry.ID)
	if err == rowstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstate: load pending row: %w", err)
	}
	var pr pendingRow
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("localstate: decode pending row: %w", err)
	}
	return pr.Changes, nil
}

func (l *LocalState) persistPending(ctx context.Context, entry *syncmodel.SnapshotEntry, changes []syncmodel.SyncChange) error {
	pr := pendingRow{SnapshotEntry: *entry, Changes: changes}
	encoded, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("localstate: encode pending row: %w", err)
	}
	return l.rows.Set(ctx, l.mirrorC, entry.ID, encoded, nil)
}

// loadPendingLocked returns the current pending snapshot's SnapshotEntry,
// or nil if none exists.
func (l *LocalState) loadPendingLocked(ctx context.Context) (*syncmodel.SnapshotEntry, error) {
	result, err := l.rows.Query(ctx, l.mirrorC, rowstore.QueryOptions{
		Condition: &rowstore.Condition{Property: "isLocalSnapshot", Value: true},
	})
	if err != nil {
		return nil, fmt.Errorf("localstate: query pending: %w", err)
	}
	if len(result.Rows) == 0 {
		return nil, nil
	}

	var pr pendingRow
	if err := json.Unmarshal(result.Rows[0], &pr); err != nil {
		return nil, fmt.Errorf("localstate: decode pending: %w", err)
	}
	return &pr.SnapshotEntry, nil
}

// LoadPending returns the pending snapshot (with its changes) or nil.
func (l *LocalState) LoadPending(ctx context.Context) (*syncmodel.SnapshotEntry, []syncmodel.SyncChange, error) {
	entry, err := l.loadPendingLocked(ctx)
	if err != nil || entry == nil {
		return entry, nil, err
	}
	changes, err := l.decodeChanges(entry)
	if err != nil {
		return nil, nil, err
	}
	return entry, changes, nil
}

// DiscardPending deletes the pending snapshot by id.
func (l *LocalState) DiscardPending(ctx context.Context, snapshot *syncmodel.SnapshotEntry) error {
	if snapshot == nil {
		return nil
	}
	return l.rows.Remove(ctx, l.mirrorC, snapshot.ID, nil)
}

// ReplacePending upserts snapshot back as the pending snapshot, used to
// restore state after a failed consolidation.
func (l *LocalState) ReplacePending(ctx context.Context, snapshot *syncmodel.SnapshotEntry, changes []syncmodel.SyncChange) error {
	snapshot.IsLocalSnapshot = true
	return l.persistPending(ctx, snapshot, changes)
}

// LoadMirror returns the previously-mirrored SnapshotEntry for a remote
// snapshot id, or found=false if this snapshot has never been mirrored.
// Exported for internal/reconciler, which drives the classify/apply walk.
func (l *LocalState) LoadMirror(ctx context.Context, id string) (entry *syncmodel.SnapshotEntry, found bool, err error) {
	raw, err := l.rows.Get(ctx, l.mirrorC, id)
	if err == rowstore.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("localstate: load mirror %s: %w", id, err)
	}
	var pr pendingRow
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, false, fmt.Errorf("localstate: decode mirror %s: %w", id, err)
	}
	return &pr.SnapshotEntry, true, nil
}

// UpsertMirror records entry as the mirrored view of a remote snapshot,
// after the reconciler has applied its changesets.
func (l *LocalState) UpsertMirror(ctx context.Context, entry *syncmodel.SnapshotEntry) error {
	entry.Context = l.ctx
	entry.IsLocalSnapshot = false
	pr := pendingRow{SnapshotEntry: *entry}
	encoded, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("localstate: encode mirror: %w", err)
	}
	return l.rows.Set(ctx, l.mirrorC, entry.ID, encoded, nil)
}

// Context returns the entity context this LocalState instance is pinned to.
func (l *LocalState) Context() string {
	return l.ctx
}
