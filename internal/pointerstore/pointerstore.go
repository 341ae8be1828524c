// Package pointerstore implements the verifiable-pointer store contract:
// a named-slot store guarded by an allow-list ACL, the authoritative
// reference to the current SyncState blob for a logical store.
package pointerstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no slot exists for key.
var ErrNotFound = errors.New("pointerstore: not found")

// ACL restricts which node identities may write to a slot: a single
// allow-list rather than graded grants — the pointer store has no
// read/write distinction, only "who may create/overwrite this slot".
type ACL struct {
	AllowList        []string
	MaxAllowListSize int
}

// Entry is what Get returns: the slot's raw bytes plus its ACL.
type Entry struct {
	Data []byte
	ACL  ACL
}

// Store is the verifiable-pointer store contract.
type Store interface {
	// Create writes data to key with the given ACL. Per SPEC_FULL.md §9
	// (Open Question 2), this is last-write-wins: a second Create on an
	// existing key overwrites both data and ACL.
	Create(ctx context.Context, key string, data []byte, acl ACL) error

	// Get returns the slot's data, or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	Close() error
}
