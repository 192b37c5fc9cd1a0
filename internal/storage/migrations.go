package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Add categories table",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Add patterns table",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS patterns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					pattern_type TEXT NOT NULL
						CHECK (pattern_type IN ('merchant', 'keyword', 'description', 'amount_range', 'regex', 'time')),
					pattern_value TEXT NOT NULL,
					confidence_weight REAL NOT NULL DEFAULT 1.0
						CHECK (confidence_weight >= 0.1 AND confidence_weight <= 5.0),
					usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
					success_count INTEGER NOT NULL DEFAULT 0
						CHECK (success_count >= 0 AND success_count <= usage_count),
					success_rate REAL NOT NULL DEFAULT 0
						CHECK (success_rate >= 0 AND success_rate <= 1),
					active BOOLEAN NOT NULL DEFAULT 1,
					user_created BOOLEAN NOT NULL DEFAULT 0,
					metadata TEXT NOT NULL DEFAULT '{}',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (category_id, pattern_type, pattern_value)
				)`,
				`CREATE INDEX idx_patterns_active ON patterns(active)`,
				`CREATE INDEX idx_patterns_category ON patterns(category_id)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add canonical merchants and merchant aliases",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS canonical_merchants (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					normalized_name TEXT NOT NULL,
					usage_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_canonical_merchants_normalized ON canonical_merchants(normalized_name)`,

				`CREATE TABLE IF NOT EXISTS merchant_aliases (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					raw_name TEXT NOT NULL,
					normalized_name TEXT NOT NULL,
					canonical_merchant_id INTEGER NOT NULL
						REFERENCES canonical_merchants(id) ON DELETE CASCADE,
					confidence REAL NOT NULL DEFAULT 1.0
						CHECK (confidence >= 0 AND confidence <= 1),
					match_count INTEGER NOT NULL DEFAULT 0 CHECK (match_count >= 0),
					last_seen_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (raw_name, canonical_merchant_id)
				)`,
				`CREATE INDEX idx_merchant_aliases_raw ON merchant_aliases(raw_name)`,
				`CREATE INDEX idx_merchant_aliases_normalized ON merchant_aliases(normalized_name)`,
				`CREATE INDEX idx_merchant_aliases_merchant ON merchant_aliases(canonical_merchant_id)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Add alias merge history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS alias_merges (
					id TEXT PRIMARY KEY,
					source_raw_name TEXT NOT NULL,
					target_raw_name TEXT NOT NULL,
					target_alias_id INTEGER NOT NULL,
					canonical_merchant_id INTEGER NOT NULL
						REFERENCES canonical_merchants(id) ON DELETE CASCADE,
					merged_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_alias_merges_merchant ON alias_merges(canonical_merchant_id)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
