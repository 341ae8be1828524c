// Package reconciler drives the per-snapshot apply walk: classify each
// remote snapshot against the local mirror as new, modified or
// already-seen, then replay unseen changeset blobs oldest-to-newest,
// never aborting on a single verification failure.
//
// Split out from internal/localstate as its own component; the drive
// loop logs and continues past individual failures rather than
// aborting the walk.
package reconciler

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/driftsync/driftsync/internal/localstate"
	"github.com/driftsync/driftsync/internal/syncmetrics"
	"github.com/driftsync/driftsync/internal/syncmodel"
)

// ChangesetApplier fetches, verifies and applies one changeset blob,
// returning whether it was applied (false, nil on verification failure —
// not an error). Satisfied by *changeset.Changesets.
type ChangesetApplier interface {
	FetchAndApply(ctx context.Context, entityCtx, blobID string) (bool, error)
}

// Reconciler walks remote snapshots and replays unapplied changesets.
type Reconciler struct {
	local   *localstate.LocalState
	applier ChangesetApplier
	metrics syncmetrics.Recorder
	log     *logrus.Entry
}

// New builds a Reconciler bound to a single LocalState/entity context.
// metrics may be nil, in which case a noop recorder is used.
func New(local *localstate.LocalState, applier ChangesetApplier, metrics syncmetrics.Recorder) *Reconciler {
	if metrics == nil {
		metrics = syncmetrics.NewManager(syncmetrics.Config{Enabled: false})
	}
	return &Reconciler{
		local:   local,
		applier: applier,
		metrics: metrics,
		log:     logrus.WithField("component", "reconciler").WithField("context", local.Context()),
	}
}

type classifiedSnapshot struct {
	snapshot syncmodel.SnapshotEntry
	mirror   *syncmodel.SnapshotEntry
}

// Apply implements reconcileRemote's classify-and-apply walk: snapshots
// newest-first until the first already-mirrored-at-current-version
// snapshot is hit (everything older is assumed already applied), then
// replays the new/modified buckets oldest-first.
func (r *Reconciler) Apply(ctx context.Context, remote *syncmodel.SyncState) error {
	if remote == nil {
		return nil
	}

	snapshots := append([]syncmodel.SnapshotEntry(nil), remote.Snapshots...)
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].DateCreated > snapshots[j].DateCreated
	})

	var newOnes, modified []classifiedSnapshot

	for _, s := range snapshots {
		mirror, found, err := r.local.LoadMirror(ctx, s.ID)
		if err != nil {
			return err
		}
		if !found {
			newOnes = append(newOnes, classifiedSnapshot{snapshot: s})
			continue
		}
		if mirror.DateModified != s.DateModified {
			modified = append(modified, classifiedSnapshot{snapshot: s, mirror: mirror})
			continue
		}
		break // everything older is already mirrored at this version
	}

	reverse(newOnes)
	reverse(modified)

	for _, m := range modified {
		if err := r.applyUnseen(ctx, m.snapshot, seenBlobs(m.mirror)); err != nil {
			return err
		}
	}
	for _, n := range newOnes {
		if err := r.applyUnseen(ctx, n.snapshot, nil); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reconciler) applyUnseen(ctx context.Context, snapshot syncmodel.SnapshotEntry, seen map[string]bool) error {
	for _, blobID := range snapshot.ChangeSetStorageIDs {
		if seen[blobID] {
			continue // already applied in a previous reconciliation pass
		}
		applied, err := r.applier.FetchAndApply(ctx, r.local.Context(), blobID)
		if err != nil {
			r.log.WithError(err).WithField("blobId", blobID).
				Error("failed to apply changeset, continuing with next")
			continue
		}
		r.metrics.RecordChangesetApplied(r.local.Context(), applied)
	}
	return r.local.UpsertMirror(ctx, &snapshot)
}

func seenBlobs(mirror *syncmodel.SnapshotEntry) map[string]bool {
	if mirror == nil {
		return nil
	}
	seen := make(map[string]bool, len(mirror.ChangeSetStorageIDs))
	for _, id := range mirror.ChangeSetStorageIDs {
		seen[id] = true
	}
	return seen
}

func reverse(s []classifiedSnapshot) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
