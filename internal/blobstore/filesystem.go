package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FilesystemStore is a content-addressed blob store backed by the local
// filesystem, using an ensure-dir/temp-file-then-rename write pattern.
// The id is a sha256 hash of the content, so repeated Set calls with
// identical bytes are naturally idempotent.
type FilesystemStore struct {
	rootPath string
	log      *logrus.Entry
}

func NewFilesystemStore(rootPath string) (*FilesystemStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root dir: %w", err)
	}
	return &FilesystemStore{
		rootPath: rootPath,
		log:      logrus.WithField("component", "blobstore-filesystem"),
	}, nil
}

func (f *FilesystemStore) path(id string) string {
	// Two-level fan-out avoids a single huge directory.
	if len(id) < 4 {
		return filepath.Join(f.rootPath, id)
	}
	return filepath.Join(f.rootPath, id[:2], id[2:4], id)
}

func (f *FilesystemStore) Set(ctx context.Context, data []byte, opts ...SetOption) (string, error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	fullPath := f.path(id)
	if _, err := os.Stat(fullPath); err == nil {
		return id, nil // already stored, content-addressed so this is a no-op
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp_blob_")
	if err != nil {
		return "", fmt.Errorf("blobstore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blobstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blobstore: close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("blobstore: rename into place: %w", err)
	}

	return id, nil
}

func (f *FilesystemStore) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read blob: %w", err)
	}
	return data, nil
}
