// Package syncmodel holds the wire types shared by localstate, remotestate
// and changeset so none of them has to import another to exchange data.
// The shapes mirror the data model: SyncChange, ChangeSet, SnapshotEntry,
// SyncState and SyncPointer.
package syncmodel

import "encoding/json"

// SyncChange is one row-level operation inside a ChangeSet. Exactly one of
// Entity (published "set" form) or ID (pending "set" form, and "delete")
// is populated depending on Operation and whether the change has been
// published yet.
type SyncChange struct {
	Operation string          `json:"operation"` // "set" | "delete"
	ID        string          `json:"id,omitempty"`
	Entity    json.RawMessage `json:"entity,omitempty"`
}

const (
	OpSet    = "set"
	OpDelete = "delete"
)

// Proof is a W3C Data Integrity proof, fixed to eddsa-jcs-2022 /
// assertionMethod per the identity system contract.
type Proof struct {
	Type               string `json:"type"`
	Cryptosuite        string `json:"cryptosuite"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// ChangeSet is an ordered collection of changes (or a consolidation
// snapshot of entities) authored and signed by one node.
type ChangeSet struct {
	ID           string            `json:"id"`
	DateCreated  string            `json:"dateCreated"`
	NodeIdentity string            `json:"nodeIdentity"`
	Changes      []SyncChange      `json:"changes,omitempty"`
	Entities     []json.RawMessage `json:"entities,omitempty"`
	Proof        *Proof            `json:"proof,omitempty"`
}

// SnapshotEntry groups changeset blob ids published (or mirrored) together.
type SnapshotEntry struct {
	ID                  string   `json:"id"`
	Context             string   `json:"context,omitempty"`
	DateCreated         string   `json:"dateCreated"`
	DateModified        string   `json:"dateModified,omitempty"`
	ChangeSetStorageIDs []string `json:"changeSetStorageIds"`
	IsLocalSnapshot     bool     `json:"isLocalSnapshot,omitempty"`
}

// SyncState is the top-level object published per logical store.
type SyncState struct {
	Snapshots []SnapshotEntry `json:"snapshots"`
}

// SyncPointer references the current SyncState blob for a slot.
type SyncPointer struct {
	SyncPointerID string `json:"syncPointerId"`
}
