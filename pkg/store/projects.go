package store

import (
	"context"
	"time"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/types"
)

// CreateProject inserts a new project and assigns its id.
func (s *Store) CreateProject(ctx context.Context, name, description string) (*types.Project, error) {
	if name == "" {
		return nil, errdefs.InvalidArgumentf("project name must not be empty")
	}
	if len(name) > types.MaxProjectNameBytes {
		return nil, errdefs.InvalidArgumentf("project name exceeds %d bytes", types.MaxProjectNameBytes)
	}

	now := time.Now().UTC()
	p := &types.Project{
		ID:          types.NewID(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, classify("create project", err)
	}
	return p, nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p types.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, classify("get project", err)
	}
	return &p, nil
}

// ListProjects returns all projects ordered by creation time, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, classify("list projects", err)
	}
	defer rows.Close()

	var projects []*types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, classify("scan project", err)
		}
		projects = append(projects, &p)
	}
	return projects, classify("list projects", rows.Err())
}

// DeleteProject removes a project and cascades to its assets. The cleanup
// callback runs with the owned assets before the rows are deleted so asset
// files never become orphans; history rows keep their audit trail with
// nulled references.
func (s *Store) DeleteProject(ctx context.Context, id string, cleanup func([]*types.Asset) error) error {
	assets, err := s.ListAssets(ctx, id)
	if err != nil {
		return err
	}

	if cleanup != nil {
		if err := cleanup(assets); err != nil {
			return err
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return classify("delete project", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete project", err)
	}
	if n == 0 {
		return errdefs.NotFoundf("project %s", id)
	}
	return nil
}
