// Package syncer implements the Syncer state machine and its two
// independent background loops: periodic pull-then-push reconciliation
// against the remote sync state, and, for trusted nodes only, periodic
// consolidation.
//
// Uses a worker/ticker/stopChan/sync.WaitGroup shutdown idiom, generalised
// from N fixed workers down to the two fixed loops this package runs.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftsync/driftsync/internal/localstate"
	"github.com/driftsync/driftsync/internal/reconciler"
	"github.com/driftsync/driftsync/internal/remotestate"
	"github.com/driftsync/driftsync/internal/syncmetrics"
)

// State is one loop's position in the Idle -> Running -> Backoff -> Idle
// cycle, with Stopped as the absorbing shutdown state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// PeerForwarder forwards a published changeset blob id to the trusted
// peer on behalf of an untrusted node, via whatever transport the
// trusted-peer RPC client implements (internal/rpcserver.Client).
type PeerForwarder interface {
	ForwardChangeSet(ctx context.Context, key, changeSetBlobID string) error
}

// Role is the trusted/untrusted tagged variant. A Trusted role writes
// directly to the sync state; an Untrusted role forwards published
// changesets to Peer instead.
type Role struct {
	Trusted bool
	Peer    PeerForwarder // only set, and only consulted, when !Trusted
}

// Config parameterises a Syncer instance. Either interval may be 0 to
// disable that loop; ConsolidationIntervalMs is only honoured when
// Role.Trusted is true.
type Config struct {
	Key                     string // verifiable-pointer slot name for this entity context
	EntityUpdateIntervalMs  int
	ConsolidationIntervalMs int
	ConsolidationBatchSize  int
}

// Syncer drives the two background loops against a single entity context.
type Syncer struct {
	cfg          Config
	role         Role
	local        *localstate.LocalState
	remote       *remotestate.RemoteState
	reconciler   *reconciler.Reconciler
	metrics      syncmetrics.Recorder
	nodeIdentity string

	entityLoopState   loopState
	consolidationLoop loopState

	stopChan chan struct{}
	wg       sync.WaitGroup
	log      *logrus.Entry
}

type loopState struct {
	mu    sync.Mutex
	value State
}

func (s *loopState) set(v State) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

func (s *loopState) get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// New builds a Syncer for one entity context. metrics may be nil, in
// which case a noop recorder is used.
func New(cfg Config, role Role, local *localstate.LocalState, remote *remotestate.RemoteState, rec *reconciler.Reconciler, metrics syncmetrics.Recorder) *Syncer {
	if metrics == nil {
		metrics = syncmetrics.NewManager(syncmetrics.Config{Enabled: false})
	}
	return &Syncer{
		cfg:        cfg,
		role:       role,
		local:      local,
		remote:     remote,
		reconciler: rec,
		metrics:    metrics,
		stopChan:   make(chan struct{}),
		log:        logrus.WithField("component", "syncer").WithField("context", local.Context()),
	}
}

// EntityUpdateState reports the entity-update loop's current state.
func (s *Syncer) EntityUpdateState() State { return s.entityLoopState.get() }

// ConsolidationState reports the consolidation loop's current state.
func (s *Syncer) ConsolidationState() State { return s.consolidationLoop.get() }

// Start records nodeIdentity and kicks both loops immediately. Restart
// after Stop is idempotent: calling Start again replaces the stop
// channel and relaunches whichever loops are configured.
func (s *Syncer) Start(ctx context.Context, nodeIdentity string) {
	s.nodeIdentity = nodeIdentity
	s.stopChan = make(chan struct{})

	if s.cfg.EntityUpdateIntervalMs > 0 {
		s.entityLoopState.set(StateIdle)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.entityUpdateLoop(ctx)
		}()
	}

	if s.role.Trusted && s.cfg.ConsolidationIntervalMs > 0 {
		s.consolidationLoop.set(StateIdle)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consolidationLoopRun(ctx)
		}()
	}

	s.log.Info("syncer started")
}

// Stop cancels scheduling of further iterations; any iteration already
// in flight runs to completion.
func (s *Syncer) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.entityLoopState.set(StateStopped)
	s.consolidationLoop.set(StateStopped)
	s.log.Info("syncer stopped")
}

func (s *Syncer) entityUpdateLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.EntityUpdateIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runEntityUpdateIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runEntityUpdateIteration(ctx)
		}
	}
}

func (s *Syncer) runEntityUpdateIteration(ctx context.Context) {
	s.entityLoopState.set(StateRunning)

	if err := s.updateFromRemote(ctx); err != nil {
		s.log.WithError(err).Error("updateFromRemote failed")
		s.entityLoopState.set(StateBackoff)
		s.metrics.RecordLoopIteration(s.local.Context(), "entity-update", StateBackoff.String())
		return
	}

	if err := s.updateFromLocal(ctx); err != nil {
		s.log.WithError(err).Error("updateFromLocal failed")
		s.entityLoopState.set(StateBackoff)
		s.metrics.RecordLoopIteration(s.local.Context(), "entity-update", StateBackoff.String())
		return
	}

	s.entityLoopState.set(StateIdle)
	s.metrics.RecordLoopIteration(s.local.Context(), "entity-update", StateIdle.String())
}

// updateFromRemote reads the remote pointer then reconciles: readPointer ->
// readSyncState -> reconcileRemote. A missing pointer or sync state is a
// no-op, not an error.
func (s *Syncer) updateFromRemote(ctx context.Context) error {
	pointer, err := s.remote.ReadPointer(ctx, s.cfg.Key)
	if err != nil {
		return err
	}
	if pointer == nil {
		return nil
	}

	state, err := s.remote.ReadSyncState(ctx, pointer.SyncPointerID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	return s.reconciler.Apply(ctx, state)
}

// updateFromLocal dispatches the pending local snapshot: load any pending
// snapshot, publish it, and dispatch the resulting blob id per role. On
// success the pending snapshot is discarded; otherwise it is kept for
// the next tick.
func (s *Syncer) updateFromLocal(ctx context.Context) error {
	pending, changes, err := s.local.LoadPending(ctx)
	if err != nil {
		return err
	}
	if pending == nil || len(changes) == 0 {
		return nil
	}

	blobID, err := s.remote.PublishChangeSet(ctx, s.local.Context(), changes, s.nodeIdentity)
	if err != nil {
		return err
	}
	if blobID == "" {
		return nil
	}
	s.metrics.RecordChangesetPublished(s.local.Context())

	if s.role.Trusted {
		err = s.remote.AppendToSyncState(ctx, s.cfg.Key, blobID)
	} else {
		err = s.role.Peer.ForwardChangeSet(ctx, s.cfg.Key, blobID)
	}
	if err != nil {
		s.log.WithError(err).Warn("failed to publish local changes, keeping pending snapshot for next tick")
		return err
	}

	return s.local.DiscardPending(ctx, pending)
}

func (s *Syncer) consolidationLoopRun(ctx context.Context) {
	interval := time.Duration(s.cfg.ConsolidationIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runConsolidationIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runConsolidationIteration(ctx)
		}
	}
}

func (s *Syncer) runConsolidationIteration(ctx context.Context) {
	s.consolidationLoop.set(StateRunning)

	pending, changes, err := s.local.LoadPending(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to load pending snapshot before consolidation")
		s.consolidationLoop.set(StateBackoff)
		return
	}
	if pending != nil {
		if err := s.local.DiscardPending(ctx, pending); err != nil {
			s.log.WithError(err).Error("failed to discard pending snapshot before consolidation")
			s.consolidationLoop.set(StateBackoff)
			return
		}
	}

	batchSize := s.cfg.ConsolidationBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	started := time.Now()
	pages, err := s.remote.Consolidate(ctx, s.local.Context(), s.cfg.Key, s.nodeIdentity, batchSize)
	s.metrics.RecordConsolidation(s.local.Context(), time.Since(started), pages, err)
	if err != nil {
		s.log.WithError(err).Error("consolidation failed, restoring pending snapshot")
		if pending != nil {
			if restoreErr := s.local.ReplacePending(ctx, pending, changes); restoreErr != nil {
				s.log.WithError(restoreErr).Error("failed to restore pending snapshot after failed consolidation")
			}
		}
		s.consolidationLoop.set(StateBackoff)
		return
	}

	s.consolidationLoop.set(StateIdle)
}
