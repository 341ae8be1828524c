// Package facade implements the public entity-storage surface: a thin
// wrapper over the row store that stamps reserved fields on write and
// records every local mutation with LocalState so the Syncer can publish
// it later.
//
// Get/Set/Remove/Query passthroughs keep the stamping step to a single,
// obvious mutation point.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftsync/driftsync/internal/entity"
	"github.com/driftsync/driftsync/internal/localstate"
	"github.com/driftsync/driftsync/internal/rowstore"
	"github.com/driftsync/driftsync/internal/syncmodel"
)

// Facade is the entry point applications use to read and write entities.
type Facade struct {
	rows     rowstore.Store
	local    *localstate.LocalState
	nodeID   string
	entityCx string
	log      *logrus.Entry
}

// New builds a Facade bound to one entity context, one row store and one
// LocalState instance, per SPEC_FULL.md §9 (one instance handles exactly
// one entity context).
func New(rows rowstore.Store, local *localstate.LocalState, entityCtx, nodeIdentity string) *Facade {
	return &Facade{
		rows:     rows,
		local:    local,
		nodeID:   nodeIdentity,
		entityCx: entityCtx,
		log:      logrus.WithField("component", "facade").WithField("context", entityCtx),
	}
}

// Get is a pure pass-through to the row store; it never touches sync state.
func (f *Facade) Get(ctx context.Context, id string) ([]byte, error) {
	return f.rows.Get(ctx, f.entityCx, id)
}

// Query is a pure pass-through to the row store.
func (f *Facade) Query(ctx context.Context, opts rowstore.QueryOptions) (rowstore.QueryResult, error) {
	return f.rows.Query(ctx, f.entityCx, opts)
}

// Set stamps nodeIdentity and dateCreated on rec, writes it subject to
// conditions, and records the change with LocalState. On row-store
// rejection no local-change record is produced.
func (f *Facade) Set(ctx context.Context, rec *entity.Record, conditions []rowstore.WriteCondition) error {
	rec.SetNodeIdentity(f.nodeID)
	rec.SetDateCreated(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("facade: encode row %s: %w", rec.GetPrimaryKey(), err)
	}

	if err := f.rows.Set(ctx, f.entityCx, rec.GetPrimaryKey(), encoded, conditions); err != nil {
		return err
	}

	if err := f.local.RecordChange(ctx, syncmodel.OpSet, rec.GetPrimaryKey()); err != nil {
		f.log.WithError(err).WithField("id", rec.GetPrimaryKey()).Error("failed to record local change for set")
		return err
	}
	return nil
}

// Remove deletes id from the row store and records the deletion, which
// always supersedes a prior pending "set" for the same id.
func (f *Facade) Remove(ctx context.Context, id string, conditions []rowstore.WriteCondition) error {
	if err := f.rows.Remove(ctx, f.entityCx, id, conditions); err != nil {
		return err
	}

	if err := f.local.RecordChange(ctx, syncmodel.OpDelete, id); err != nil {
		f.log.WithError(err).WithField("id", id).Error("failed to record local change for remove")
		return err
	}
	return nil
}
