package store

import (
	"context"
	"fmt"
)

// migration is one numbered schema step.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{1, "initial_schema", schemaV1},
	{2, "queued_partial_index", schemaV2},
}

// migrate applies every migration with a version greater than the stored
// maximum, in order, inside one write transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return classify("create schema_version", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return classify("read schema version", err)
	}

	var pending []migration
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin migration", err)
	}
	defer tx.Rollback()

	for _, m := range pending {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return classify(fmt.Sprintf("apply migration %d (%s)", m.Version, m.Name), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			return classify(fmt.Sprintf("record migration %d", m.Version), err)
		}
		s.logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}

	if err := tx.Commit(); err != nil {
		return classify("commit migrations", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration number.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&v); err != nil {
		return 0, classify("read schema version", err)
	}
	return v, nil
}
