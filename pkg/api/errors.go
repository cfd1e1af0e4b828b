package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/log"
	"github.com/forge3d/forge3d/pkg/types"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	ErrorID string `json:"errorId,omitempty"`
}

// errorHandler maps error kinds to status codes and the uniform body.
// Unexpected errors get a correlation id that also lands in errors.jsonl.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := errdefs.HTTPStatus(err)
	body := errorBody{
		Error:   errdefs.Code(err),
		Message: err.Error(),
	}

	var he *echo.HTTPError
	if ok := asHTTPError(err, &he); ok {
		status = he.Code
		body.Message = fmt.Sprintf("%v", he.Message)
		switch he.Code {
		case http.StatusRequestEntityTooLarge:
			body.Error = "payload_too_large"
		case http.StatusNotFound:
			body.Error = "not_found"
		case http.StatusMethodNotAllowed:
			body.Error = "invalid_argument"
		default:
			body.Error = "internal"
		}
	}

	if status >= http.StatusInternalServerError {
		body.ErrorID = types.NewID()
		s.logger.Error().
			Err(err).
			Str("error_id", body.ErrorID).
			Str("path", c.Request().URL.Path).
			Msg("request failed")
		if s.deps.Errors != nil {
			s.deps.Errors.Record(log.ErrorEntry{
				ErrorID:   body.ErrorID,
				Component: "api",
				Message:   c.Request().Method + " " + c.Request().URL.Path,
				Error:     err.Error(),
			})
		}
		// Never leak internals; the correlation id is enough.
		if body.Error == "internal" {
			body.Message = "internal error"
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(status)
		return
	}
	c.JSON(status, body)
}

func asHTTPError(err error, target **echo.HTTPError) bool {
	he, ok := err.(*echo.HTTPError)
	if ok {
		*target = he
	}
	return ok
}
