package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/types"
)

// generateRequest is the JSON enqueue body.
type generateRequest struct {
	Type      string                  `json:"type"`
	Prompt    string                  `json:"prompt,omitempty"`
	ProjectID string                  `json:"projectId,omitempty"`
	Options   types.GenerationOptions `json:"options,omitempty"`
}

// generateResponse acknowledges admission.
type generateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleGenerate enqueues a generation. The body is either JSON or, for
// mesh jobs, raw image bytes with an image/* content type.
func (s *Server) handleGenerate(c echo.Context) error {
	contentType := c.Request().Header.Get(echo.HeaderContentType)

	var (
		job       types.Job
		projectID string
		err       error
	)
	if strings.HasPrefix(contentType, "image/") {
		job, projectID, err = s.imageUploadJob(c)
	} else {
		job, projectID, err = s.jsonJob(c)
	}
	if err != nil {
		return err
	}

	if projectID != "" {
		if _, err := s.deps.Store.GetProject(c.Request().Context(), projectID); err != nil {
			return err
		}
	}

	id, err := s.deps.Scheduler.Enqueue(c.Request().Context(), job, projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, generateResponse{ID: id, Status: string(types.StatusQueued)})
}

// imageUploadJob reads a raw image body into a mesh job. The size cap is
// enforced before any row or bridge work happens.
func (s *Server) imageUploadJob(c echo.Context) (types.Job, string, error) {
	body, err := readCapped(c.Request().Body, MaxImageBody)
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", errdefs.InvalidArgumentf("image body is empty")
	}
	return types.MeshJob{Image: body}, c.QueryParam("projectId"), nil
}

// jsonJob decodes and validates the JSON enqueue body.
func (s *Server) jsonJob(c echo.Context) (types.Job, string, error) {
	body, err := readCapped(c.Request().Body, MaxJSONBody)
	if err != nil {
		return nil, "", err
	}

	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", errdefs.InvalidArgumentf("malformed JSON body")
	}

	kind := types.Kind(req.Type)
	if !kind.Valid() {
		return nil, "", errdefs.InvalidArgumentf("type must be one of mesh, image, full, got %q", req.Type)
	}
	if kind == types.KindMesh {
		return nil, "", errdefs.InvalidArgumentf("mesh generation requires a raw image body with an image/* content type")
	}
	if req.Prompt == "" {
		return nil, "", errdefs.InvalidArgumentf("prompt is required for %s generation", kind)
	}
	if len(req.Prompt) > types.MaxPromptBytes {
		return nil, "", errdefs.InvalidArgumentf("prompt exceeds %d bytes", types.MaxPromptBytes)
	}

	if kind == types.KindImage {
		return types.ImageJob{Prompt: req.Prompt, Options: req.Options}, req.ProjectID, nil
	}
	return types.FullJob{Prompt: req.Prompt, Options: req.Options}, req.ProjectID, nil
}

// readCapped reads at most limit bytes, mapping overflow to the payload
// size error kind.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("request body exceeds the %d byte limit: %w", limit, errdefs.ErrPayloadTooLarge)
	}
	return data, nil
}
