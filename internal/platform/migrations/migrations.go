// Package migrations applies the catalog schema. Statements are idempotent
// so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// EmbeddingDimension is the pgvector column width. It must match the
// configured embedding provider dimension.
const EmbeddingDimension = 1024

type migration struct {
	name string
	stmt string
}

var migrations = []migration{
	{
		name: "pgvector extension",
		stmt: `CREATE EXTENSION IF NOT EXISTS vector`,
	},
	{
		name: "apps table",
		stmt: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS apps (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	logo TEXT NOT NULL DEFAULT '',
	categories TEXT[] NOT NULL DEFAULT '{}',
	visibility TEXT NOT NULL DEFAULT 'private',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	security_schemes JSONB NOT NULL DEFAULT '{}',
	default_security_credentials JSONB NOT NULL DEFAULT '{}',
	embedding vector(%d),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT apps_name_key UNIQUE (name)
)`, EmbeddingDimension),
	},
	{
		name: "functions table",
		stmt: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS functions (
	id UUID PRIMARY KEY,
	app_id UUID NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	visibility TEXT NOT NULL DEFAULT 'private',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	protocol TEXT NOT NULL DEFAULT '',
	protocol_data JSONB NOT NULL DEFAULT '{}',
	parameters JSONB NOT NULL DEFAULT '{}',
	response JSONB NOT NULL DEFAULT '{}',
	embedding vector(%d),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT functions_name_key UNIQUE (name)
)`, EmbeddingDimension),
	},
	{
		name: "app_configurations table",
		stmt: `
CREATE TABLE IF NOT EXISTS app_configurations (
	id UUID PRIMARY KEY,
	project_id UUID NOT NULL,
	app_id UUID NOT NULL REFERENCES apps(id),
	app_name TEXT NOT NULL,
	security_scheme TEXT NOT NULL,
	security_scheme_overrides JSONB NOT NULL DEFAULT '{}',
	all_functions_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	enabled_functions TEXT[] NOT NULL DEFAULT '{}',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT app_configurations_project_app_key UNIQUE (project_id, app_name)
)`,
	},
	{
		name: "app_credentials table",
		stmt: `
CREATE TABLE IF NOT EXISTS app_credentials (
	id UUID PRIMARY KEY,
	configuration_id UUID NOT NULL REFERENCES app_configurations(id) ON DELETE CASCADE,
	app_id UUID NOT NULL,
	security_scheme TEXT NOT NULL,
	encrypted_data BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	},
	{
		// Forward-compatible ownership columns. Older deployments ran without
		// them; the store detects their absence and degrades.
		name: "owner key columns",
		stmt: `
ALTER TABLE apps ADD COLUMN IF NOT EXISTS owner_key_id UUID;
ALTER TABLE functions ADD COLUMN IF NOT EXISTS owner_key_id UUID;
ALTER TABLE app_configurations ADD COLUMN IF NOT EXISTS owner_key_id UUID;
ALTER TABLE apps DROP CONSTRAINT IF EXISTS apps_name_key;
ALTER TABLE functions DROP CONSTRAINT IF EXISTS functions_name_key;
CREATE UNIQUE INDEX IF NOT EXISTS apps_name_owner_key ON apps (name, owner_key_id);
CREATE UNIQUE INDEX IF NOT EXISTS apps_name_system_key ON apps (name) WHERE owner_key_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS functions_name_owner_key ON functions (name, owner_key_id);
CREATE UNIQUE INDEX IF NOT EXISTS functions_name_system_key ON functions (name) WHERE owner_key_id IS NULL;
CREATE INDEX IF NOT EXISTS apps_owner_key_idx ON apps (owner_key_id);
CREATE INDEX IF NOT EXISTS functions_owner_key_idx ON functions (owner_key_id)`,
	},
}

// CheckDimension rejects an embedding provider dimension that does not
// match the vector column width. A mismatch would otherwise surface only
// on the first insert.
func CheckDimension(dim int) error {
	if dim != EmbeddingDimension {
		return fmt.Errorf("embedding dimension %d does not match schema vector(%d)", dim, EmbeddingDimension)
	}
	return nil
}

// Apply runs every migration in order against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
	}
	return nil
}
