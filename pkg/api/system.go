package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/metrics"
	"github.com/forge3d/forge3d/pkg/telemetry"
	"github.com/forge3d/forge3d/pkg/types"
)

func (s *Server) handleHistory(c echo.Context) error {
	filter := types.HistoryFilter{
		ProjectID: c.QueryParam("projectId"),
	}
	if v := c.QueryParam("status"); v != "" {
		status := types.Status(v)
		if !status.Valid() {
			return errdefs.InvalidArgumentf("status must be one of queued, processing, complete, failed, got %q", v)
		}
		filter.Status = status
	}
	if v := c.QueryParam("type"); v != "" {
		kind := types.Kind(v)
		if !kind.Valid() {
			return errdefs.InvalidArgumentf("type must be one of mesh, image, full, got %q", v)
		}
		filter.Kind = kind
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return errdefs.InvalidArgumentf("limit must be a positive integer, got %q", v)
		}
		filter.Limit = limit
	}

	entries, err := s.deps.Store.ListHistory(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*types.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"history": entries})
}

// latencySummary is the per-category latency block of the stats payload.
type latencySummary struct {
	Category telemetry.Category    `json:"category"`
	Window   telemetry.Percentiles `json:"latency"`
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.deps.Store.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	metrics.AssetsTotal.Set(float64(stats.TotalAssets))
	metrics.AssetBytes.Set(float64(stats.TotalAssetBytes))
	metrics.TelemetryDropped.Set(float64(s.deps.Hub.TotalDropped()))

	latencies := []latencySummary{
		{Category: telemetry.CategoryScheduler, Window: s.deps.Hub.LatencyPercentiles(telemetry.CategoryScheduler)},
		{Category: telemetry.CategoryBridge, Window: s.deps.Hub.LatencyPercentiles(telemetry.CategoryBridge)},
	}

	return c.JSON(http.StatusOK, map[string]any{
		"stats":         stats,
		"counters":      s.deps.Hub.Counters(),
		"latencies":     latencies,
		"droppedEvents": s.deps.Hub.TotalDropped(),
	})
}

func (s *Server) handleBridge(c echo.Context) error {
	last := s.deps.Bridge.LastHealth()
	body := map[string]any{
		"state": s.deps.Bridge.State(),
		"port":  s.deps.Bridge.Port(),
	}
	if tail := s.deps.Bridge.StderrTail(); tail != "" {
		body["stderrTail"] = tail
	}
	if !last.CheckedAt.IsZero() {
		body["lastHealth"] = map[string]any{
			"healthy":   last.Healthy,
			"message":   last.Message,
			"checkedAt": last.CheckedAt,
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleQueue(c echo.Context) error {
	state, err := s.deps.Scheduler.State(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleQueuePause(c echo.Context) error {
	s.deps.Scheduler.Pause()
	return c.JSON(http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleQueueResume(c echo.Context) error {
	s.deps.Scheduler.Resume()
	return c.JSON(http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleQueueCancel(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Scheduler.Cancel(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"cancelled": id})
}
