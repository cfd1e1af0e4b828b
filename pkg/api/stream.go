package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/forge3d/forge3d/pkg/telemetry"
)

// handleMetricsStream serves the telemetry firehose as Server-Sent
// Events. Every event is flushed immediately; a closed client context
// detaches the subscription.
func (s *Server) handleMetricsStream(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	sub := s.deps.Hub.Subscribe(telemetry.CategoryAll)
	defer s.deps.Hub.Unsubscribe(sub)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeSSE(res, ev); err != nil {
				// Client went away mid-write; nothing to salvage.
				return nil
			}
			res.Flush()
		}
	}
}

// writeSSE emits one event in wire format: an event line, a data line
// with the JSON payload, and a blank separator.
func writeSSE(res *echo.Response, ev telemetry.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
