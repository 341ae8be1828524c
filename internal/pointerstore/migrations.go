package pointerstore

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// migration is an ordered step run once against schema_version, trimmed
// to what a single-table pointer store needs.
type migration struct {
	version     int
	description string
	up          func(*sql.Tx) error
}

func migrations() []migration {
	return []migration{
		{
			version:     1,
			description: "create sync_pointers table",
			up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS sync_pointers (
						key TEXT PRIMARY KEY,
						data BLOB NOT NULL,
						allow_list TEXT NOT NULL,
						max_allow_list_size INTEGER NOT NULL,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
		},
	}
}

func runMigrations(db *sql.DB, log *logrus.Entry) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("pointerstore: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("pointerstore: read schema version: %w", err)
	}

	for _, m := range migrations() {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("pointerstore: begin migration %d: %w", m.version, err)
		}

		if err := m.up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("pointerstore: migration %d (%s) failed: %w", m.version, m.description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("pointerstore: record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("pointerstore: commit migration %d: %w", m.version, err)
		}

		log.WithFields(logrus.Fields{"version": m.version, "description": m.description}).
			Info("applied pointer store migration")
	}

	return nil
}
