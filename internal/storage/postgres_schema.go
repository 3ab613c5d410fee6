package storage

import (
	"context"
	"fmt"
)

// schemaStatements is the idempotent bootstrap DDL. Full migration tooling is
// out of scope; every statement here is safe to re-run.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		forum_username TEXT NOT NULL DEFAULT '',
		irc_nick TEXT NOT NULL DEFAULT '',
		public BOOLEAN NOT NULL DEFAULT FALSE,
		admin BOOLEAN NOT NULL DEFAULT FALSE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (LOWER(username))`,
	`CREATE TABLE IF NOT EXISTS mods (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL REFERENCES users (id),
		name TEXT NOT NULL,
		short_description TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		license TEXT NOT NULL DEFAULT '',
		published BOOLEAN NOT NULL DEFAULT FALSE,
		default_version_id BIGINT,
		download_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS mod_versions (
		id BIGSERIAL PRIMARY KEY,
		mod_id BIGINT NOT NULL REFERENCES mods (id),
		friendly_version TEXT NOT NULL,
		game_version TEXT NOT NULL DEFAULT '',
		sort_index INTEGER NOT NULL,
		download_path TEXT NOT NULL,
		changelog TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (mod_id, sort_index)
	)`,
	`CREATE TABLE IF NOT EXISTS shared_authors (
		mod_id BIGINT NOT NULL REFERENCES mods (id),
		user_id BIGINT NOT NULL REFERENCES users (id),
		accepted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (mod_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS auth_sessions (
		token TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema applies the bootstrap DDL.
func (r *postgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
