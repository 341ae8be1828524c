package rowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerStore is one of the two interchangeable row-store engines, using
// badger's options and on-disk layout with a raw scan/batch pattern.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// BadgerOptions configures the engine.
type BadgerOptions struct {
	DataDir    string
	SyncWrites bool
}

// NewBadgerStore opens (or creates) a BadgerDB-backed row store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	dbPath := filepath.Join(opts.DataDir, "rows")

	badgerOpts := badger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithSyncWrites(opts.SyncWrites).
		WithIndexCacheSize(100 << 20).
		WithBlockCacheSize(256 << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("rowstore: open badger db: %w", err)
	}

	log := logrus.WithField("component", "rowstore-badger")
	log.WithField("path", dbPath).Info("badger row store initialized")

	return &BadgerStore{db: db, log: log}, nil
}

func rowKey(entityCtx, id string) []byte {
	return []byte(fmt.Sprintf("row:%s:%s", entityCtx, id))
}

func rowPrefix(entityCtx string) []byte {
	return []byte(fmt.Sprintf("row:%s:", entityCtx))
}

func (s *BadgerStore) Get(ctx context.Context, entityCtx, id string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rowKey(entityCtx, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte(nil), val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rowstore: badger get: %w", err)
	}
	return value, nil
}

func (s *BadgerStore) Set(ctx context.Context, entityCtx, id string, row []byte, conditions []WriteCondition) error {
	key := rowKey(entityCtx, id)
	return s.db.Update(func(txn *badger.Txn) error {
		var existing []byte
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if verr := item.Value(func(val []byte) error {
				existing = append([]byte(nil), val...)
				return nil
			}); verr != nil {
				return fmt.Errorf("rowstore: badger read existing: %w", verr)
			}
		case err == badger.ErrKeyNotFound:
			existing = nil
		default:
			return fmt.Errorf("rowstore: badger get for set: %w", err)
		}

		if !matchesWriteConditions(existing, conditions) {
			return ErrConditionFailed
		}

		if err := txn.Set(key, row); err != nil {
			return fmt.Errorf("rowstore: badger set: %w", err)
		}
		return nil
	})
}

func (s *BadgerStore) Remove(ctx context.Context, entityCtx, id string, conditions []WriteCondition) error {
	key := rowKey(entityCtx, id)
	return s.db.Update(func(txn *badger.Txn) error {
		var existing []byte
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if verr := item.Value(func(val []byte) error {
				existing = append([]byte(nil), val...)
				return nil
			}); verr != nil {
				return fmt.Errorf("rowstore: badger read existing: %w", verr)
			}
		case err == badger.ErrKeyNotFound:
			return nil
		default:
			return fmt.Errorf("rowstore: badger get for remove: %w", err)
		}

		if !matchesWriteConditions(existing, conditions) {
			return ErrConditionFailed
		}

		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("rowstore: badger delete: %w", err)
		}
		return nil
	})
}

func (s *BadgerStore) Query(ctx context.Context, entityCtx string, opts QueryOptions) (QueryResult, error) {
	prefix := rowPrefix(entityCtx)

	var matched [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var val []byte
			if err := item.Value(func(v []byte) error {
				val = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return fmt.Errorf("rowstore: badger scan value: %w", err)
			}

			var decoded map[string]any
			if err := json.Unmarshal(val, &decoded); err != nil {
				continue
			}
			if matchesCondition(decoded, opts.Condition) {
				matched = append(matched, val)
			}
		}
		return nil
	})
	if err != nil {
		return QueryResult{}, err
	}

	return paginate(matched, opts)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// paginate applies Sort, Projection and a numeric-offset Cursor/PageSize to
// an already-filtered row set; shared by every engine's Query.
func paginate(rows [][]byte, opts QueryOptions) (QueryResult, error) {
	if opts.Sort != nil {
		sort.SliceStable(rows, func(i, j int) bool {
			var a, b map[string]any
			_ = json.Unmarshal(rows[i], &a)
			_ = json.Unmarshal(rows[j], &b)
			cmp := compareValue(a[opts.Sort.Property], b[opts.Sort.Property])
			if opts.Sort.Descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	start := 0
	if opts.Cursor != "" {
		var parsed int
		if _, err := fmt.Sscanf(opts.Cursor, "%d", &parsed); err == nil {
			start = parsed
		}
	}
	if start > len(rows) {
		start = len(rows)
	}

	end := len(rows)
	nextCursor := ""
	if opts.PageSize > 0 && start+opts.PageSize < len(rows) {
		end = start + opts.PageSize
		nextCursor = fmt.Sprintf("%d", end)
	}

	page := rows[start:end]
	if len(opts.Projection) > 0 {
		projected := make([][]byte, 0, len(page))
		for _, r := range page {
			var decoded map[string]any
			if err := json.Unmarshal(r, &decoded); err != nil {
				projected = append(projected, r)
				continue
			}
			reduced := make(map[string]any, len(opts.Projection))
			for _, field := range opts.Projection {
				if v, ok := decoded[field]; ok {
					reduced[field] = v
				}
			}
			encoded, err := json.Marshal(reduced)
			if err != nil {
				return QueryResult{}, err
			}
			projected = append(projected, encoded)
		}
		page = projected
	}

	return QueryResult{Rows: page, Cursor: nextCursor}, nil
}
