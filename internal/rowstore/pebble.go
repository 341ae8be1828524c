package rowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"
)

// PebbleStore is the second interchangeable row-store engine, built on
// pebble/v2's options/cache/compression setup. The legacy pebble v1
// package is not imported here — see DESIGN.md: v1 is only needed for an
// on-disk migration driftsync has no installed base to run.
type PebbleStore struct {
	db  *pebble.DB
	log *logrus.Entry
}

// PebbleOptions configures the engine.
type PebbleOptions struct {
	DataDir string
}

func NewPebbleStore(opts PebbleOptions) (*PebbleStore, error) {
	dbPath := filepath.Join(opts.DataDir, "rows")
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("rowstore: create pebble dir: %w", err)
	}

	cache := pebble.NewCache(256 << 20)
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{Compression: func() pebble.Compression { return pebble.SnappyCompression }},
		},
	}

	db, err := pebble.Open(dbPath, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("rowstore: open pebble db: %w", err)
	}

	log := logrus.WithField("component", "rowstore-pebble")
	log.WithField("path", dbPath).Info("pebble row store initialized")

	return &PebbleStore{db: db, log: log}, nil
}

func (s *PebbleStore) Get(ctx context.Context, entityCtx, id string) ([]byte, error) {
	val, closer, err := s.db.Get(rowKey(entityCtx, id))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rowstore: pebble get: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *PebbleStore) readExisting(entityCtx, id string) ([]byte, error) {
	val, closer, err := s.db.Get(rowKey(entityCtx, id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rowstore: pebble read existing: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *PebbleStore) Set(ctx context.Context, entityCtx, id string, row []byte, conditions []WriteCondition) error {
	existing, err := s.readExisting(entityCtx, id)
	if err != nil {
		return err
	}
	if !matchesWriteConditions(existing, conditions) {
		return ErrConditionFailed
	}
	if err := s.db.Set(rowKey(entityCtx, id), row, pebble.Sync); err != nil {
		return fmt.Errorf("rowstore: pebble set: %w", err)
	}
	return nil
}

func (s *PebbleStore) Remove(ctx context.Context, entityCtx, id string, conditions []WriteCondition) error {
	existing, err := s.readExisting(entityCtx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if !matchesWriteConditions(existing, conditions) {
		return ErrConditionFailed
	}
	if err := s.db.Delete(rowKey(entityCtx, id), pebble.Sync); err != nil {
		return fmt.Errorf("rowstore: pebble delete: %w", err)
	}
	return nil
}

func (s *PebbleStore) Query(ctx context.Context, entityCtx string, opts QueryOptions) (QueryResult, error) {
	prefix := rowPrefix(entityCtx)
	upper := prefixEnd(prefix)

	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return QueryResult{}, fmt.Errorf("rowstore: pebble new iter: %w", err)
	}
	defer it.Close()

	var matched [][]byte
	for valid := it.First(); valid; valid = it.Next() {
		val, err := it.ValueAndErr()
		if err != nil {
			return QueryResult{}, fmt.Errorf("rowstore: pebble iter value: %w", err)
		}
		cp := append([]byte(nil), val...)

		var decoded map[string]any
		if err := json.Unmarshal(cp, &decoded); err != nil {
			continue
		}
		if matchesCondition(decoded, opts.Condition) {
			matched = append(matched, cp)
		}
	}

	return paginate(matched, opts)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// prefixEnd returns the exclusive upper bound for a prefix scan.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
