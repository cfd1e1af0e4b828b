package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/types"
)

// CreateAsset inserts an asset row. The caller must already have written
// the file; the file plus this row are the two halves of asset atomicity,
// with the file written first and removed again if the insert fails.
func (s *Store) CreateAsset(ctx context.Context, a *types.Asset) error {
	if a.ProjectID == "" {
		return errdefs.InvalidArgumentf("asset requires a project id")
	}
	if !a.Kind.Valid() {
		return errdefs.InvalidArgumentf("asset kind %q is not one of mesh, image, full", a.Kind)
	}
	if len(a.Metadata) > types.MaxAssetMetadataBytes {
		return errdefs.InvalidArgumentf("asset metadata exceeds %d bytes", types.MaxAssetMetadataBytes)
	}

	if a.ID == "" {
		a.ID = types.NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, project_id, name, kind, file_path, thumbnail_path, file_size, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.Name, a.Kind, a.FilePath, nullStr(a.ThumbnailPath), a.FileSize, a.Metadata, a.CreatedAt)
	return classify("create asset", err)
}

// GetAsset retrieves an asset by id.
func (s *Store) GetAsset(ctx context.Context, id string) (*types.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, kind, file_path, thumbnail_path, file_size, metadata, created_at
		FROM assets WHERE id = ?`, id)
	return scanAsset(row)
}

// ListAssets returns every asset owned by a project, newest first.
func (s *Store) ListAssets(ctx context.Context, projectID string) ([]*types.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, kind, file_path, thumbnail_path, file_size, metadata, created_at
		FROM assets WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, classify("list assets", err)
	}
	defer rows.Close()

	var assets []*types.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, classify("list assets", rows.Err())
}

// DeleteAsset removes a single asset. The cleanup callback receives the
// row before deletion so the caller can remove the file.
func (s *Store) DeleteAsset(ctx context.Context, id string, cleanup func(*types.Asset) error) error {
	a, err := s.GetAsset(ctx, id)
	if err != nil {
		return err
	}

	if cleanup != nil {
		if err := cleanup(a); err != nil {
			return err
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return classify("delete asset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete asset", err)
	}
	if n == 0 {
		return errdefs.NotFoundf("asset %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*types.Asset, error) {
	var a types.Asset
	var thumb sql.NullString
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Kind, &a.FilePath, &thumb, &a.FileSize, &a.Metadata, &a.CreatedAt); err != nil {
		return nil, classify("scan asset", err)
	}
	a.ThumbnailPath = thumb.String
	return &a, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
