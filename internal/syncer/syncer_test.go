package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/internal/blobstore"
	"github.com/driftsync/driftsync/internal/changeset"
	"github.com/driftsync/driftsync/internal/entity"
	"github.com/driftsync/driftsync/internal/facade"
	"github.com/driftsync/driftsync/internal/identity"
	"github.com/driftsync/driftsync/internal/localstate"
	"github.com/driftsync/driftsync/internal/pointerstore"
	"github.com/driftsync/driftsync/internal/reconciler"
	"github.com/driftsync/driftsync/internal/remotestate"
	"github.com/driftsync/driftsync/internal/rowstore"
)

const testDID = "did:key:node-1"

var errSimulatedForwardFailure = errors.New("forward failed")

type fakePeer struct {
	calls []string
	fail  bool
}

func (f *fakePeer) ForwardChangeSet(ctx context.Context, key, changeSetBlobID string) error {
	if f.fail {
		return errSimulatedForwardFailure
	}
	f.calls = append(f.calls, changeSetBlobID)
	return nil
}

type testRig struct {
	syncer   *Syncer
	facade   *facade.Facade
	local    *localstate.LocalState
	remote   *remotestate.RemoteState
	pointers pointerstore.Store
	peer     *fakePeer
}

func newTestRig(t *testing.T, trusted bool) *testRig {
	t.Helper()

	pub, priv, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	resolver := identity.NewStaticKeyResolver()
	resolver.Register(testDID, pub)
	signer := identity.NewEd25519Signer(testDID, priv, resolver)

	blobs, err := blobstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	rows, err := rowstore.NewBadgerStore(rowstore.BadgerOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { rows.Close() })
	pointers, err := pointerstore.NewSQLiteStore(filepath.Join(t.TempDir(), "pointers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pointers.Close() })

	changesets := changeset.New(signer, blobs, rows, "")
	local := localstate.New(rows, "widgets")
	remote := remotestate.New(pointers, blobs, rows, changesets)
	rec := reconciler.New(local, changesets, nil)
	fcd := facade.New(rows, local, "widgets", testDID)

	peer := &fakePeer{}
	role := Role{Trusted: trusted, Peer: peer}

	s := New(Config{
		Key:                    "sync-pointer:widgets",
		EntityUpdateIntervalMs: 0,
		ConsolidationBatchSize: 10,
	}, role, local, remote, rec, nil)
	s.nodeIdentity = testDID

	return &testRig{syncer: s, facade: fcd, local: local, remote: remote, pointers: pointers, peer: peer}
}

func TestSyncer_InitialStatesAreIdle(t *testing.T) {
	rig := newTestRig(t, true)
	assert.Equal(t, StateIdle, rig.syncer.EntityUpdateState())
	assert.Equal(t, StateIdle, rig.syncer.ConsolidationState())
}

func TestSyncer_StartStop_RunsConfiguredLoops(t *testing.T) {
	rig := newTestRig(t, true)
	rig.syncer.cfg.EntityUpdateIntervalMs = 10

	ctx := context.Background()
	rig.syncer.Start(ctx, testDID)
	time.Sleep(50 * time.Millisecond)
	rig.syncer.Stop()

	assert.Equal(t, StateStopped, rig.syncer.EntityUpdateState())
}

func TestSyncer_StartStop_Restart(t *testing.T) {
	rig := newTestRig(t, true)
	rig.syncer.cfg.EntityUpdateIntervalMs = 10

	ctx := context.Background()
	rig.syncer.Start(ctx, testDID)
	time.Sleep(20 * time.Millisecond)
	rig.syncer.Stop()

	rig.syncer.Start(ctx, testDID)
	time.Sleep(20 * time.Millisecond)
	rig.syncer.Stop()

	assert.Equal(t, StateStopped, rig.syncer.EntityUpdateState())
}

func TestUpdateFromRemote_NoopOnMissingPointer(t *testing.T) {
	rig := newTestRig(t, true)
	assert.NoError(t, rig.syncer.updateFromRemote(context.Background()))
}

func TestUpdateFromLocal_NoopWhenNoPending(t *testing.T) {
	rig := newTestRig(t, true)
	assert.NoError(t, rig.syncer.updateFromLocal(context.Background()))
}

func TestUpdateFromLocal_TrustedDispatchesDirectly(t *testing.T) {
	rig := newTestRig(t, true)
	ctx := context.Background()

	rec := entity.NewRecord("id", map[string]any{"id": "w-1", "name": "sprocket"})
	require.NoError(t, rig.facade.Set(ctx, rec, nil))

	require.NoError(t, rig.syncer.updateFromLocal(ctx))

	_, changes, err := rig.local.LoadPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes, "pending snapshot must be discarded after a successful trusted publish")

	ptr, err := rig.remote.ReadPointer(ctx, "sync-pointer:widgets")
	require.NoError(t, err)
	require.NotNil(t, ptr, "trusted path appends directly to the sync state")
}

func TestUpdateFromLocal_UntrustedForwardsToPeer(t *testing.T) {
	rig := newTestRig(t, false)
	ctx := context.Background()

	rec := entity.NewRecord("id", map[string]any{"id": "w-1"})
	require.NoError(t, rig.facade.Set(ctx, rec, nil))

	require.NoError(t, rig.syncer.updateFromLocal(ctx))

	assert.Len(t, rig.peer.calls, 1)

	_, changes, err := rig.local.LoadPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestUpdateFromLocal_KeepsPendingOnForwardFailure(t *testing.T) {
	rig := newTestRig(t, false)
	rig.peer.fail = true
	ctx := context.Background()

	rec := entity.NewRecord("id", map[string]any{"id": "w-1"})
	require.NoError(t, rig.facade.Set(ctx, rec, nil))

	err := rig.syncer.updateFromLocal(ctx)
	assert.Error(t, err)

	_, changes, err := rig.local.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1, "pending snapshot must survive a failed forward so it is retried next tick")
}

func TestRunEntityUpdateIteration_SetsIdleOnSuccess(t *testing.T) {
	rig := newTestRig(t, true)
	rig.syncer.runEntityUpdateIteration(context.Background())
	assert.Equal(t, StateIdle, rig.syncer.EntityUpdateState())
}

func TestRunConsolidationIteration_SetsIdleOnSuccess(t *testing.T) {
	rig := newTestRig(t, true)
	ctx := context.Background()

	rec := entity.NewRecord("id", map[string]any{"id": "w-1"})
	require.NoError(t, rig.facade.Set(ctx, rec, nil))

	rig.syncer.runConsolidationIteration(ctx)
	assert.Equal(t, StateIdle, rig.syncer.ConsolidationState())
}

func TestRunConsolidationIteration_RestoresPendingOnFailure(t *testing.T) {
	rig := newTestRig(t, true)
	ctx := context.Background()

	rec := entity.NewRecord("id", map[string]any{"id": "w-1"})
	require.NoError(t, rig.facade.Set(ctx, rec, nil))

	// Force Consolidate's final WritePointer to fail by closing the
	// pointer store out from under it.
	require.NoError(t, rig.pointers.Close())

	rig.syncer.runConsolidationIteration(ctx)
	assert.Equal(t, StateBackoff, rig.syncer.ConsolidationState())

	_, changes, err := rig.local.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1, "pending snapshot must be restored after a failed consolidation")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
