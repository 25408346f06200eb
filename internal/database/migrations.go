package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	log.Info().Msg("Running database migrations")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	for _, migration := range migrations {
		if migration.Version > currentVersion {
			log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applying migration")

			if err := db.Transaction(func(tx *sql.Tx) error {
				statements := splitSQLStatements(migration.SQL)
				for i, stmt := range statements {
					if _, err := tx.Exec(stmt); err != nil {
						return fmt.Errorf("migration %d statement %d failed: %w", migration.Version, i+1, err)
					}
				}

				if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
					return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
				}

				return nil
			}); err != nil {
				return err
			}
		}
	}

	log.Info().Msg("Database migrations complete")
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// splitSQLStatements splits a SQL string into individual statements.
// It handles comments and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.SplitSeq(sql, "\n")
	for line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		SQL: `
			-- User authentication (single user)
			CREATE TABLE users (
				id INTEGER PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				api_key TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Key/value settings
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Registered media-server backends
			CREATE TABLE servers (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				url TEXT NOT NULL,
				api_key TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT 1,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Local catalog of items synced from the backends.
			-- Parts and streams are stored as a JSON document.
			CREATE TABLE items (
				server_id INTEGER NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
				item_id TEXT NOT NULL,
				type TEXT NOT NULL,
				title TEXT NOT NULL,
				year INTEGER NOT NULL DEFAULT 0,
				imdb_id TEXT NOT NULL DEFAULT '',
				tmdb_id TEXT NOT NULL DEFAULT '',
				unification_id TEXT NOT NULL DEFAULT '',
				show_title TEXT NOT NULL DEFAULT '',
				parent_id TEXT NOT NULL DEFAULT '',
				parent_index INTEGER NOT NULL DEFAULT 0,
				episode_index INTEGER NOT NULL DEFAULT 0,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				view_offset_ms INTEGER NOT NULL DEFAULT 0,
				media_json TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (server_id, item_id)
			);
			CREATE INDEX idx_items_unification ON items(unification_id);
			CREATE INDEX idx_items_episode ON items(show_title, parent_index, episode_index);
			CREATE INDEX idx_items_parent ON items(server_id, parent_id);

			-- Last chosen audio/subtitle streams per item
			CREATE TABLE track_preferences (
				item_id TEXT NOT NULL,
				server_id INTEGER NOT NULL,
				audio_stream_id INTEGER NOT NULL DEFAULT 0,
				subtitle_stream_id INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (item_id, server_id)
			);

			-- Watch-continuation surface: one row per item in progress
			CREATE TABLE playback_progress (
				server_id INTEGER NOT NULL,
				item_id TEXT NOT NULL,
				position_ms INTEGER NOT NULL DEFAULT 0,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				watched BOOLEAN NOT NULL DEFAULT 0,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (server_id, item_id)
			);
		`,
	},
	{
		Version: 2,
		Name:    "item_language_overrides",
		SQL: `
			-- Per-item forced languages ("always French for this show")
			CREATE TABLE item_language_overrides (
				server_id INTEGER NOT NULL,
				item_id TEXT NOT NULL,
				audio_language TEXT NOT NULL DEFAULT '',
				subtitle_language TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (server_id, item_id)
			);
		`,
	},
}
