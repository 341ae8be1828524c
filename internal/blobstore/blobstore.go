// Package blobstore defines the content-addressed byte store the
// synchronisation core depends on, narrowed down to the Set/Get shape a
// changeset blob needs.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob exists for id.
var ErrNotFound = errors.New("blobstore: not found")

// Store is a content-addressed blob store: Set writes bytes and returns a
// stable id; Get retrieves them. Compress/DisableEncryption are optional
// hints a backend may honour; when a backend ignores them the caller
// (Changesets.store) gzips on its own side regardless, so correctness
// never depends on the hint being honoured.
type Store interface {
	Set(ctx context.Context, data []byte, opts ...SetOption) (id string, err error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// SetOption configures a single Set call.
type SetOption func(*SetOptions)

type SetOptions struct {
	Compress          string
	DisableEncryption bool
}

func WithCompress(algo string) SetOption {
	return func(o *SetOptions) { o.Compress = algo }
}

func WithDisableEncryption() SetOption {
	return func(o *SetOptions) { o.DisableEncryption = true }
}

func ApplyOptions(opts ...SetOption) SetOptions {
	var o SetOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
