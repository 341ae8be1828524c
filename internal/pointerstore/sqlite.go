package pointerstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sirupsen/logrus"
)

// SQLiteStore is the pointer store engine: a single table guarded by an
// allow-list ACL, with its schema managed through versioned migrations
// and the ACL itself stored as a dedicated column rather than JSON-over-KV.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewSQLiteStore opens (creating if necessary) the pointer store database
// at path and runs pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("pointerstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	log := logrus.WithField("component", "pointerstore-sqlite")

	if err := runMigrations(db, log); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, key string, data []byte, acl ACL) error {
	allowList := strings.Join(acl.AllowList, ",")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_pointers (key, data, allow_list, max_allow_list_size, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			allow_list = excluded.allow_list,
			max_allow_list_size = excluded.max_allow_list_size,
			updated_at = CURRENT_TIMESTAMP
	`, key, data, allowList, acl.MaxAllowListSize)
	if err != nil {
		return fmt.Errorf("pointerstore: upsert slot %q: %w", key, err)
	}

	s.log.WithField("key", key).Debug("pointer slot written")
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	var (
		data             []byte
		allowListRaw     string
		maxAllowListSize int
	)

	row := s.db.QueryRowContext(ctx,
		"SELECT data, allow_list, max_allow_list_size FROM sync_pointers WHERE key = ?", key)
	if err := row.Scan(&data, &allowListRaw, &maxAllowListSize); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("pointerstore: get slot %q: %w", key, err)
	}

	var allowList []string
	if allowListRaw != "" {
		allowList = strings.Split(allowListRaw, ",")
	}

	return Entry{
		Data: data,
		ACL:  ACL{AllowList: allowList, MaxAllowListSize: maxAllowListSize},
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
