// Package changeset builds, signs, stores, fetches, verifies and applies
// changesets. Blobs are stored gzip-compressed but deliberately
// unencrypted: the shared log must stay plaintext-readable so peers can
// replay it, integrity coming from the proof alone.
package changeset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/driftsync/driftsync/internal/blobstore"
	"github.com/driftsync/driftsync/internal/entity"
	"github.com/driftsync/driftsync/internal/identity"
	"github.com/driftsync/driftsync/internal/rowstore"
	"github.com/driftsync/driftsync/internal/syncmodel"
	"github.com/driftsync/driftsync/pkg/compression"
)

const methodIDFragment = "decentralised-storage-assertion"

// Changesets signs, stores, fetches and applies changeset blobs.
type Changesets struct {
	signer     identity.Signer
	blobs      blobstore.Store
	rows       rowstore.Store
	methodID   string
	compressor compression.Compressor
	log        *logrus.Entry
}

// New builds the Changesets component. methodID is the DID
// verification-method fragment used when signing (configuration option
// decentralisedStorageMethodId).
func New(signer identity.Signer, blobs blobstore.Store, rows rowstore.Store, methodID string) *Changesets {
	if methodID == "" {
		methodID = methodIDFragment
	}
	// MinSize/MaxSize/AutoDetect disabled: changesets are always
	// gzip-compressed regardless of size, so size-threshold heuristics
	// don't apply here.
	cfg := &compression.CompressionConfig{Algorithm: "gzip", Level: 6}
	return &Changesets{
		signer:     signer,
		blobs:      blobs,
		rows:       rows,
		methodID:   methodID,
		compressor: compression.NewGzipCompressor(cfg),
		log:        logrus.WithField("component", "changesets"),
	}
}

// signablePayload returns cs with proof stripped, used as the canonicalised
// signing/verification payload.
func signablePayload(cs *syncmodel.ChangeSet) *syncmodel.ChangeSet {
	clone := *cs
	clone.Proof = nil
	return &clone
}

// Sign signs cs (which must already carry no proof or an overwritable one)
// and returns the attached proof; it does not mutate cs.
func (c *Changesets) Sign(cs *syncmodel.ChangeSet) (*syncmodel.Proof, error) {
	payload := signablePayload(cs)
	verificationMethod := fmt.Sprintf("%s#%s", cs.NodeIdentity, c.methodID)
	return c.signer.CreateProof(cs.NodeIdentity, verificationMethod, payload)
}

// Verify checks cs.Proof. A missing proof is always invalid. Verification
// failures are logged at error level and return false, never an error —
// callers treat this as the VerificationFailed condition, not a fault.
func (c *Changesets) Verify(cs *syncmodel.ChangeSet) bool {
	if cs.Proof == nil {
		c.log.WithField("changesetId", cs.ID).Error("changeset has no proof")
		return false
	}

	payload := signablePayload(cs)
	ok, err := c.signer.VerifyProof(payload, cs.Proof)
	if err != nil {
		c.log.WithError(err).WithField("changesetId", cs.ID).Error("changeset verification errored")
		return false
	}
	if !ok {
		c.log.WithFields(logrus.Fields{
			"changesetId":  cs.ID,
			"nodeIdentity": cs.NodeIdentity,
		}).Error("changeset proof failed verification")
	}
	return ok
}

// Store JSON-serialises cs, gzip-compresses it and writes it to the blob
// store, returning the blob id.
func (c *Changesets) Store(ctx context.Context, cs *syncmodel.ChangeSet) (string, error) {
	raw, err := json.Marshal(cs)
	if err != nil {
		return "", fmt.Errorf("changeset: marshal: %w", err)
	}

	var compressed bytes.Buffer
	if _, err := c.compressor.CompressStream(bytes.NewReader(raw), &compressed); err != nil {
		return "", fmt.Errorf("changeset: compress: %w", err)
	}

	id, err := c.blobs.Set(ctx, compressed.Bytes(), blobstore.WithCompress("gzip"), blobstore.WithDisableEncryption())
	if err != nil {
		return "", fmt.Errorf("changeset: store blob: %w", err)
	}

	return id, nil
}

// Fetch reads, decompresses and decodes the changeset at blobId without
// applying it. Used by FetchAndApply and by tests that need to inspect a
// changeset before deciding what to do with it.
func (c *Changesets) Fetch(ctx context.Context, blobID string) (*syncmodel.ChangeSet, error) {
	compressed, err := c.blobs.Get(ctx, blobID)
	if err != nil {
		return nil, err // NotFound propagates unchanged, handled by callers
	}

	raw, err := c.compressor.Decompress(&compression.CompressedData{Data: compressed, Algorithm: "gzip"})
	if err != nil {
		return nil, fmt.Errorf("changeset: decompress %s: %w", blobID, err)
	}

	var cs syncmodel.ChangeSet
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("changeset: unmarshal %s: %w", blobID, err)
	}
	return &cs, nil
}

// FetchAndApply reads a changeset blob, verifies it, and applies it to
// entityCtx's row store. Returns (applied, err): applied is false (with
// nil err) when verification failed — this is not an error condition.
func (c *Changesets) FetchAndApply(ctx context.Context, entityCtx, blobID string) (bool, error) {
	cs, err := c.Fetch(ctx, blobID)
	if err != nil {
		return false, err
	}

	if !c.Verify(cs) {
		return false, nil
	}

	for _, raw := range cs.Entities {
		rec, err := entity.NewRecordFromJSON("id", raw)
		if err != nil {
			return false, fmt.Errorf("changeset: decode entity in %s: %w", blobID, err)
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return false, fmt.Errorf("changeset: re-encode entity in %s: %w", blobID, err)
		}
		if err := c.rows.Set(ctx, entityCtx, rec.GetPrimaryKey(), encoded, nil); err != nil {
			return false, fmt.Errorf("changeset: apply entity from %s: %w", blobID, err)
		}
	}

	for _, change := range cs.Changes {
		switch change.Operation {
		case syncmodel.OpSet:
			rec, err := entity.NewRecordFromJSON("id", change.Entity)
			if err != nil {
				return false, fmt.Errorf("changeset: decode change entity in %s: %w", blobID, err)
			}
			// nodeIdentity was stripped at publish time; restore it from
			// the changeset's signer.
			rec.SetNodeIdentity(cs.NodeIdentity)
			encoded, err := json.Marshal(rec)
			if err != nil {
				return false, fmt.Errorf("changeset: re-encode change entity in %s: %w", blobID, err)
			}
			if err := c.rows.Set(ctx, entityCtx, rec.GetPrimaryKey(), encoded, nil); err != nil {
				return false, fmt.Errorf("changeset: apply set change from %s: %w", blobID, err)
			}
		case syncmodel.OpDelete:
			if err := c.rows.Remove(ctx, entityCtx, change.ID, nil); err != nil {
				return false, fmt.Errorf("changeset: apply delete change from %s: %w", blobID, err)
			}
		default:
			c.log.WithField("operation", change.Operation).Warn("changeset: unknown operation, skipping")
		}
	}

	return true, nil
}
