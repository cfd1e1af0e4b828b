package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/forge3d/forge3d/pkg/errdefs"
	"github.com/forge3d/forge3d/pkg/types"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListProjects(c echo.Context) error {
	projects, err := s.deps.Store.ListProjects(c.Request().Context())
	if err != nil {
		return err
	}
	if projects == nil {
		projects = []*types.Project{}
	}
	return c.JSON(http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleCreateProject(c echo.Context) error {
	body, err := readCapped(c.Request().Body, MaxJSONBody)
	if err != nil {
		return err
	}
	var req createProjectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errdefs.InvalidArgumentf("malformed JSON body")
	}

	project, err := s.deps.Store.CreateProject(c.Request().Context(), req.Name, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, project)
}

// handleGetProject returns the project with its assets inlined.
func (s *Server) handleGetProject(c echo.Context) error {
	ctx := c.Request().Context()
	project, err := s.deps.Store.GetProject(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	assets, err := s.deps.Store.ListAssets(ctx, project.ID)
	if err != nil {
		return err
	}
	if assets == nil {
		assets = []*types.Asset{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"project": project,
		"assets":  assets,
	})
}

// handleDeleteProject cascade-deletes the project: asset files first, then
// the rows; history rows survive with nulled references.
func (s *Server) handleDeleteProject(c echo.Context) error {
	id := c.Param("id")
	err := s.deps.Store.DeleteProject(c.Request().Context(), id, func(list []*types.Asset) error {
		for _, a := range list {
			if err := s.deps.Assets.Remove(a.FilePath); err != nil {
				return err
			}
		}
		return s.deps.Assets.RemoveProjectDir(id)
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleListProjectAssets(c echo.Context) error {
	ctx := c.Request().Context()
	// 404 on a dangling project id rather than an empty list.
	if _, err := s.deps.Store.GetProject(ctx, c.Param("id")); err != nil {
		return err
	}
	assets, err := s.deps.Store.ListAssets(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if assets == nil {
		assets = []*types.Asset{}
	}
	return c.JSON(http.StatusOK, map[string]any{"assets": assets})
}

func (s *Server) handleDeleteAsset(c echo.Context) error {
	id := c.Param("id")
	err := s.deps.Store.DeleteAsset(c.Request().Context(), id, func(a *types.Asset) error {
		return s.deps.Assets.Remove(a.FilePath)
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"deleted": id})
}
