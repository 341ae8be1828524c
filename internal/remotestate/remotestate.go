// Package remotestate implements the protocol spoken against the blob
// store and the verifiable-pointer store: reading and writing pointers
// and sync states, publishing changesets, appending to a sync state, and
// periodic consolidation.
//
// Consolidation walks rows page by page, the same queue/page-driven
// replay style used elsewhere for building a consolidated snapshot.
package remotestate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftsync/driftsync/internal/blobstore"
	"github.com/driftsync/driftsync/internal/entity"
	"github.com/driftsync/driftsync/internal/pointerstore"
	"github.com/driftsync/driftsync/internal/rowstore"
	"github.com/driftsync/driftsync/internal/syncmodel"
	"github.com/driftsync/driftsync/pkg/compression"
)

// ChangesetStore is the subset of *changeset.Changesets that RemoteState
// needs.
type ChangesetStore interface {
	Sign(cs *syncmodel.ChangeSet) (*syncmodel.Proof, error)
	Store(ctx context.Context, cs *syncmodel.ChangeSet) (string, error)
}

// RemoteState reads and writes the shared pointer/sync-state/changeset
// protocol.
type RemoteState struct {
	pointers   pointerstore.Store
	blobs      blobstore.Store
	rows       rowstore.Store
	changesets ChangesetStore
	compressor compression.Compressor
	log        *logrus.Entry
}

// New builds the RemoteState component.
func New(pointers pointerstore.Store, blobs blobstore.Store, rows rowstore.Store, changesets ChangesetStore) *RemoteState {
	return &RemoteState{
		pointers:   pointers,
		blobs:      blobs,
		rows:       rows,
		changesets: changesets,
		compressor: compression.NewGzipCompressor(&compression.CompressionConfig{Algorithm: "gzip", Level: 6}),
		log:        logrus.WithField("component", "remotestate"),
	}
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// ReadPointer reads the named slot, returning (nil, nil) on NotFound.
func (r *RemoteState) ReadPointer(ctx context.Context, key string) (*syncmodel.SyncPointer, error) {
	entry, err := r.pointers.Get(ctx, key)
	if err == pointerstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remotestate: read pointer %q: %w", key, err)
	}

	var ptr syncmodel.SyncPointer
	if err := json.Unmarshal(entry.Data, &ptr); err != nil {
		return nil, fmt.Errorf("remotestate: decode pointer %q: %w", key, err)
	}
	return &ptr, nil
}

// WritePointer overwrites key's slot to reference blobId. The slot's ACL
// is replaced with acl on every write.
func (r *RemoteState) WritePointer(ctx context.Context, key, blobID string, acl pointerstore.ACL) error {
	ptr := syncmodel.SyncPointer{SyncPointerID: blobID}
	encoded, err := json.Marshal(ptr)
	if err != nil {
		return fmt.Errorf("remotestate: encode pointer %q: %w", key, err)
	}
	if err := r.pointers.Create(ctx, key, encoded, acl); err != nil {
		return fmt.Errorf("remotestate: write pointer %q: %w", key, err)
	}
	return nil
}

// ReadSyncState fetches and decompresses the sync state at blobId,
// returning (nil, nil) on NotFound.
func (r *RemoteState) ReadSyncState(ctx context.Context, blobID string) (*syncmodel.SyncState, error) {
	if blobID == "" {
		return nil, nil
	}

	compressed, err := r.blobs.Get(ctx, blobID)
	if err == blobstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remotestate: fetch sync state %q: %w", blobID, err)
	}

	raw, err := r.compressor.Decompress(&compression.CompressedData{Data: compressed, Algorithm: "gzip"})
	if err != nil {
		return nil, fmt.Errorf("remotestate: decompress sync state %q: %w", blobID, err)
	}

	var state syncmodel.SyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("remotestate: decode sync state %q: %w", blobID, err)
	}
	return &state, nil
}

// WriteSyncState serialises, compresses and stores state, returning the
// new blob id.
func (r *RemoteState) WriteSyncState(ctx context.Context, state *syncmodel.SyncState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("remotestate: encode sync state: %w", err)
	}

	var compressed bytes.Buffer
	if _, err := r.compressor.CompressStream(bytes.NewReader(raw), &compressed); err != nil {
		return "", fmt.Errorf("remotestate: compress sync state: %w", err)
	}

	id, err := r.blobs.Set(ctx, compressed.Bytes(), blobstore.WithCompress("gzip"), blobstore.WithDisableEncryption())
	if err != nil {
		return "", fmt.Errorf("remotestate: store sync state: %w", err)
	}
	return id, nil
}

// PublishChangeSet expands each set change's id into a full row with
// nodeIdentity stripped, assembles, signs and stores a changeset.
// Returns ("", nil) for an empty change list.
func (r *RemoteState) PublishChangeSet(ctx context.Context, entityCtx string, changes []syncmodel.SyncChange, nodeIdentity string) (string, error) {
	if len(changes) == 0 {
		return "", nil
	}

	expanded := make([]syncmodel.SyncChange, 0, len(changes))
	for _, c := range changes {
		if c.Operation != syncmodel.OpSet || c.ID == "" {
			expanded = append(expanded, c)
			continue
		}

		raw, err := r.rows.Get(ctx, entityCtx, c.ID)
		if err != nil {
			return "", fmt.Errorf("remotestate: load row %q for publish: %w", c.ID, err)
		}
		rec, err := entity.NewRecordFromJSON("id", raw)
		if err != nil {
			return "", fmt.Errorf("remotestate: decode row %q for publish: %w", c.ID, err)
		}
		stripped := rec.WithoutField("nodeIdentity")
		encoded, err := json.Marshal(stripped)
		if err != nil {
			return "", fmt.Errorf("remotestate: encode stripped row %q: %w", c.ID, err)
		}

		expanded = append(expanded, syncmodel.SyncChange{Operation: syncmodel.OpSet, Entity: encoded})
	}

	cs := &syncmodel.ChangeSet{
		ID:           syncmodel.NewID(),
		DateCreated:  nowISO(),
		NodeIdentity: nodeIdentity,
		Changes:      expanded,
	}

	proof, err := r.changesets.Sign(cs)
	if err != nil {
		return "", fmt.Errorf("remotestate: sign changeset: %w", err)
	}
	cs.Proof = proof

	blobID, err := r.changesets.Store(ctx, cs)
	if err != nil {
		return "", fmt.Errorf("remotestate: store changeset: %w", err)
	}
	return blobID, nil
}

// AppendToSyncState loads the current sync state, extends its latest
// snapshot with changeSetBlobID, and republishes the pointer. Trusted
// path only.
func (r *RemoteState) AppendToSyncState(ctx context.Context, key, changeSetBlobID string) error {
	pointer, err := r.ReadPointer(ctx, key)
	if err != nil {
		return err
	}

	var state *syncmodel.SyncState
	if pointer != nil {
		state, err = r.ReadSyncState(ctx, pointer.SyncPointerID)
		if err != nil {
			return err
		}
	}
	if state == nil {
		state = &syncmodel.SyncState{Snapshots: []syncmodel.SnapshotEntry{}}
	}

	sort.Slice(state.Snapshots, func(i, j int) bool {
		return state.Snapshots[i].DateCreated < state.Snapshots[j].DateCreated
	})

	if len(state.Snapshots) == 0 {
		state.Snapshots = append(state.Snapshots, syncmodel.SnapshotEntry{
			ID:                  syncmodel.NewID(),
			DateCreated:         nowISO(),
			ChangeSetStorageIDs: []string{},
		})
	}

	current := &state.Snapshots[len(state.Snapshots)-1]
	current.DateModified = nowISO()
	current.ChangeSetStorageIDs = append(current.ChangeSetStorageIDs, changeSetBlobID)

	newBlobID, err := r.WriteSyncState(ctx, state)
	if err != nil {
		return err
	}
	return r.WritePointer(ctx, key, newBlobID, pointerstore.ACL{})
}

// Consolidate pages through every row in entityCtx ordered by
// dateCreated ascending, builds one changeset per page as an
// entities-only snapshot, and rewrites the pointer to a fresh
// single-snapshot sync state. Trusted path, run periodically.
// The returned int is the number of changeset pages produced, exposed for
// the Syncer's consolidation-duration metric; it carries no protocol
// meaning.
func (r *RemoteState) Consolidate(ctx context.Context, entityCtx, key, nodeIdentity string, batchSize int) (int, error) {
	var blobIDs []string
	cursor := ""

	for {
		page, err := r.rows.Query(ctx, entityCtx, rowstore.QueryOptions{
			Sort:     &rowstore.Sort{Property: "dateCreated"},
			Cursor:   cursor,
			PageSize: batchSize,
		})
		if err != nil {
			return len(blobIDs), fmt.Errorf("remotestate: query page for consolidation: %w", err)
		}
		if len(page.Rows) == 0 {
			break
		}

		entities := make([]json.RawMessage, len(page.Rows))
		copy(entities, page.Rows)

		cs := &syncmodel.ChangeSet{
			ID:           syncmodel.NewID(),
			DateCreated:  nowISO(),
			NodeIdentity: nodeIdentity,
			Entities:     entities,
		}
		proof, err := r.changesets.Sign(cs)
		if err != nil {
			return len(blobIDs), fmt.Errorf("remotestate: sign consolidation page: %w", err)
		}
		cs.Proof = proof

		blobID, err := r.changesets.Store(ctx, cs)
		if err != nil {
			return len(blobIDs), fmt.Errorf("remotestate: store consolidation page: %w", err)
		}
		blobIDs = append(blobIDs, blobID)

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	state := &syncmodel.SyncState{
		Snapshots: []syncmodel.SnapshotEntry{
			{
				ID:                  syncmodel.NewID(),
				DateCreated:         nowISO(),
				ChangeSetStorageIDs: blobIDs,
			},
		},
	}

	newBlobID, err := r.WriteSyncState(ctx, state)
	if err != nil {
		return len(blobIDs), err
	}

	r.log.WithFields(logrus.Fields{"key": key, "pages": len(blobIDs)}).Info("consolidation produced new sync state")
	return len(blobIDs), r.WritePointer(ctx, key, newBlobID, pointerstore.ACL{})
}
