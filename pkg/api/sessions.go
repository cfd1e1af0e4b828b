package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/session"
)

// handleStatus serves a session snapshot. Jobs that have not started yet
// (or predate this process) fall back to their history row.
func (s *Server) handleStatus(c echo.Context) error {
	id := c.Param("id")

	if sess, ok := s.deps.Scheduler.Registry().Get(id); ok {
		return c.JSON(http.StatusOK, sess.Snapshot())
	}

	entry, err := s.deps.Store.GetHistory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session.Snapshot{
		ID:          entry.ID,
		Kind:        entry.Kind,
		ProjectID:   entry.ProjectID,
		State:       session.State(entry.Status),
		Error:       entry.ErrorMsg,
		AssetID:     entry.AssetID,
		CreatedAt:   entry.CreatedAt,
		CompletedAt: entry.CompletedAt,
	})
}

// handleDownload serves the terminal result bytes of a session.
func (s *Server) handleDownload(c echo.Context) error {
	id := c.Param("id")

	sess, ok := s.deps.Scheduler.Registry().Get(id)
	if !ok {
		return errdefs.NotFoundf("session %s", id)
	}
	snap := sess.Snapshot()
	if !snap.State.Terminal() {
		return errdefs.NotFoundf("session %s has no result yet", id)
	}
	result := sess.Result()
	if result == nil {
		return errdefs.NotFoundf("result of session %s is no longer retained", id)
	}
	return c.Blob(http.StatusOK, result.ContentType(), result.Primary())
}

// handleSessions lists the in-memory session registry, newest first.
func (s *Server) handleSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": s.deps.Scheduler.Registry().Snapshots(),
	})
}
