package pgstore

import (
	"context"

	"netwatch/core-go/internal/model"
)

// migrations are applied in order at startup; schema_migrations records
// the last applied version. Statements must stay append-only safe:
// never rewrite an entry that has shipped.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id           uuid PRIMARY KEY,
		created_at   timestamptz NOT NULL,
		device_count integer NOT NULL,
		total_ports  integer NOT NULL,
		checksum     text NOT NULL,
		metadata     jsonb NOT NULL DEFAULT '{}'::jsonb,
		devices      jsonb NOT NULL DEFAULT '[]'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS snapshots_created_at_idx ON snapshots (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS snapshot_diffs (
		id               uuid PRIMARY KEY,
		from_id          uuid NOT NULL REFERENCES snapshots (id) ON DELETE CASCADE,
		to_id            uuid NOT NULL REFERENCES snapshots (id) ON DELETE CASCADE,
		created_at       timestamptz NOT NULL,
		devices_added    integer NOT NULL,
		devices_removed  integer NOT NULL,
		devices_changed  integer NOT NULL,
		ports_changed    integer NOT NULL,
		services_changed integer NOT NULL,
		total_changes    integer NOT NULL,
		payload          jsonb NOT NULL DEFAULT '[]'::jsonb,
		UNIQUE (from_id, to_id)
	)`,
	`CREATE INDEX IF NOT EXISTS snapshot_diffs_created_at_idx ON snapshot_diffs (created_at DESC)`,
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version integer PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return &model.InfrastructureError{Op: "migrate", Err: err}
	}

	var current int
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return &model.InfrastructureError{Op: "migrate", Err: err}
	}

	for i := current; i < len(migrations); i++ {
		if _, err := s.db.Exec(ctx, migrations[i]); err != nil {
			return &model.InfrastructureError{Op: "migrate", Err: err}
		}
		if _, err := s.db.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			return &model.InfrastructureError{Op: "migrate", Err: err}
		}
		s.log.Info().Int("version", i+1).Msg("schema migration applied")
	}
	return nil
}
