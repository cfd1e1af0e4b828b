package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/types"
)

// RecordHistory inserts a new generation attempt. Status defaults to
// queued; id and created_at are assigned if unset.
func (s *Store) RecordHistory(ctx context.Context, e *types.HistoryEntry) error {
	if !e.Kind.Valid() {
		return errdefs.InvalidArgumentf("history kind %q is not one of mesh, image, full", e.Kind)
	}
	if len(e.Prompt) > types.MaxPromptBytes {
		return errdefs.InvalidArgumentf("prompt exceeds %d bytes", types.MaxPromptBytes)
	}
	if e.Status == "" {
		e.Status = types.StatusQueued
	}
	if !e.Status.Valid() {
		return errdefs.InvalidArgumentf("history status %q out of domain", e.Status)
	}
	if e.ID == "" {
		e.ID = types.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (id, asset_id, project_id, kind, prompt, status,
			generation_time_seconds, vram_usage_mb, error_message, metadata, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullStr(e.AssetID), nullStr(e.ProjectID), e.Kind, nullStr(e.Prompt), e.Status,
		e.GenTimeSecs, e.VRAMUsageMB, nullStr(e.ErrorMsg), e.Metadata, e.CreatedAt, e.CompletedAt)
	return classify("record history", err)
}

// GetHistory retrieves one history entry by id.
func (s *Store) GetHistory(ctx context.Context, id string) (*types.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, historySelect+` WHERE id = ?`, id)
	return scanHistory(row)
}

// DequeueOldest atomically transitions the oldest queued entry to
// processing and returns it. This update is the scheduler's linearization
// point: a crash after it commits is cleaned up by RecoverOrphans on the
// next start. Returns (nil, nil) when the queue is empty.
func (s *Store) DequeueOldest(ctx context.Context) (*types.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE history SET status = 'processing'
		WHERE id = (
			SELECT id FROM history WHERE status = 'queued'
			ORDER BY created_at ASC, id ASC LIMIT 1
		)
		RETURNING id, asset_id, project_id, kind, prompt, status,
			generation_time_seconds, vram_usage_mb, error_message, metadata, created_at, completed_at`)

	e, err := scanHistory(row)
	if errdefs.IsNotFound(err) {
		return nil, nil
	}
	return e, err
}

// HistoryUpdate carries the optional fields written together with a
// terminal status transition.
type HistoryUpdate struct {
	AssetID     string
	GenTimeSecs *float64
	VRAMUsageMB *float64
	ErrorMsg    string
	Metadata    string
}

// UpdateHistoryStatus moves an entry along the status DAG. Transitions
// violating queued -> processing -> {complete, failed} fail with Conflict.
// Terminal transitions set completed_at.
func (s *Store) UpdateHistoryStatus(ctx context.Context, id string, next types.Status, upd HistoryUpdate) error {
	if !next.Valid() || next == types.StatusQueued {
		return errdefs.InvalidArgumentf("cannot transition history to %q", next)
	}

	var res sql.Result
	var err error
	if next == types.StatusProcessing {
		res, err = s.db.ExecContext(ctx, `
			UPDATE history SET status = 'processing'
			WHERE id = ? AND status = 'queued'`, id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE history SET status = ?,
				asset_id = COALESCE(?, asset_id),
				generation_time_seconds = COALESCE(?, generation_time_seconds),
				vram_usage_mb = COALESCE(?, vram_usage_mb),
				error_message = COALESCE(?, error_message),
				metadata = CASE WHEN ? != '' THEN ? ELSE metadata END,
				completed_at = ?
			WHERE id = ? AND status IN ('queued', 'processing')`,
			next, nullStr(upd.AssetID), upd.GenTimeSecs, upd.VRAMUsageMB,
			nullStr(upd.ErrorMsg), upd.Metadata, upd.Metadata, time.Now().UTC(), id)
	}
	if err != nil {
		return classify("update history status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classify("update history status", err)
	}
	if n == 0 {
		// Distinguish a missing row from an illegal transition.
		if _, err := s.GetHistory(ctx, id); err != nil {
			return err
		}
		return errdefs.Conflictf("history %s cannot transition to %s", id, next)
	}
	return nil
}

// CancelQueued fails a still-queued entry with error "cancelled". Returns
// false without error when the entry exists but is no longer queued, so
// callers can decide between cooperative cancel and idempotent success.
func (s *Store) CancelQueued(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE history SET status = 'failed', error_message = 'cancelled', completed_at = ?
		WHERE id = ? AND status = 'queued'`, time.Now().UTC(), id)
	if err != nil {
		return false, classify("cancel queued", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("cancel queued", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetHistory(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListHistory returns entries matching the filter, newest first. A zero
// limit defaults to 50.
func (s *Store) ListHistory(ctx context.Context, f types.HistoryFilter) ([]*types.HistoryEntry, error) {
	query := historySelect + ` WHERE 1=1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	// Limit 0 means the default page; negative means unbounded.
	limit := f.Limit
	if limit == 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list history", err)
	}
	defer rows.Close()

	var entries []*types.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, classify("list history", rows.Err())
}

// GetStats aggregates counters across history, projects and assets.
func (s *Store) GetStats(ctx context.Context) (*types.Stats, error) {
	var st types.Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'complete'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			AVG(generation_time_seconds) FILTER (WHERE status = 'complete')
		FROM history`)
	var avg sql.NullFloat64
	if err := row.Scan(&st.TotalGenerations, &st.Queued, &st.Processing, &st.Complete, &st.Failed, &avg); err != nil {
		return nil, classify("history stats", err)
	}
	if avg.Valid {
		st.AvgGenTimeSecs = &avg.Float64
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`)
	if err := row.Scan(&st.TotalProjects); err != nil {
		return nil, classify("project stats", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM assets`)
	if err := row.Scan(&st.TotalAssets, &st.TotalAssetBytes); err != nil {
		return nil, classify("asset stats", err)
	}
	return &st, nil
}

// QueueCounts returns the number of history entries per status.
func (s *Store) QueueCounts(ctx context.Context) (map[types.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM history GROUP BY status`)
	if err != nil {
		return nil, classify("queue counts", err)
	}
	defer rows.Close()

	counts := map[types.Status]int64{
		types.StatusQueued:     0,
		types.StatusProcessing: 0,
		types.StatusComplete:   0,
		types.StatusFailed:     0,
	}
	for rows.Next() {
		var st types.Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, classify("scan queue counts", err)
		}
		counts[st] = n
	}
	return counts, classify("queue counts", rows.Err())
}

// RecoverOrphans demotes every row stuck in processing by a prior crash to
// failed. Must run once at startup, before the scheduler admits work.
func (s *Store) RecoverOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE history SET status = 'failed',
			error_message = 'orphaned by host restart',
			completed_at = ?
		WHERE status = 'processing'`, time.Now().UTC())
	if err != nil {
		return 0, classify("recover orphans", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("recover orphans", err)
	}
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("recovered orphaned history entries")
	}
	return n, nil
}

// FailQueuedWithoutPayload demotes a queued entry whose in-memory payload
// did not survive a restart.
func (s *Store) FailQueuedWithoutPayload(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE history SET status = 'failed',
			error_message = 'host restart before execution',
			completed_at = ?
		WHERE id = ? AND status = 'queued'`, time.Now().UTC(), id)
	return classify("fail queued without payload", err)
}

const historySelect = `
	SELECT id, asset_id, project_id, kind, prompt, status,
		generation_time_seconds, vram_usage_mb, error_message, metadata, created_at, completed_at
	FROM history`

func scanHistory(row rowScanner) (*types.HistoryEntry, error) {
	var e types.HistoryEntry
	var assetID, projectID, prompt, errMsg sql.NullString
	var genTime, vram sql.NullFloat64
	var completedAt sql.NullTime
	if err := row.Scan(&e.ID, &assetID, &projectID, &e.Kind, &prompt, &e.Status,
		&genTime, &vram, &errMsg, &e.Metadata, &e.CreatedAt, &completedAt); err != nil {
		return nil, classify("scan history", err)
	}
	e.AssetID = assetID.String
	e.ProjectID = projectID.String
	e.Prompt = prompt.String
	e.ErrorMsg = errMsg.String
	if genTime.Valid {
		e.GenTimeSecs = &genTime.Float64
	}
	if vram.Valid {
		e.VRAMUsageMB = &vram.Float64
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}
