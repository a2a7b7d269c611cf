package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/models"
)

// listClusters handles GET /clusters.
//
// Query parameters:
//   - type: keep one cluster type, or exclude it with a leading '!'
//   - $filter: OData filter on the placement zones
//   - expand: return the cluster documents, not only their links
func (s *Server) listClusters(c echo.Context) error {
	where, err := parseFilter(c, "$filter")
	if err != nil {
		return toAPIError(err)
	}

	dtos, err := s.orch.ListClusters(c.Request().Context(), scopeOf(c), cluster.ListOptions{
		Where: where,
		Type:  c.QueryParam("type"),
	})
	if err != nil {
		return toAPIError(err)
	}

	resp := ClusterListResponse{
		DocumentLinks: make([]string, 0, len(dtos)),
		TotalCount:    len(dtos),
	}
	expand := wantsExpand(c)
	if expand {
		resp.Documents = make(map[string]*models.ClusterDto, len(dtos))
	}
	for _, dto := range dtos {
		resp.DocumentLinks = append(resp.DocumentLinks, dto.DocumentSelfLink)
		if expand {
			resp.Documents[dto.DocumentSelfLink] = dto
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// wantsExpand accepts expand, $expand, expand=true and $expand=true.
func wantsExpand(c echo.Context) bool {
	params := c.QueryParams()
	for _, name := range []string{"expand", "$expand"} {
		values, ok := params[name]
		if !ok {
			continue
		}
		if len(values) == 0 || values[0] == "" {
			return true
		}
		if b, err := strconv.ParseBool(values[0]); err == nil && b {
			return true
		}
	}
	return false
}

// createCluster handles POST /clusters.
func (s *Server) createCluster(c echo.Context) error {
	spec, err := s.bindClusterSpec(c)
	if err != nil {
		return err
	}

	outcome, err := s.orch.CreateCluster(c.Request().Context(), scopeOf(c), spec)
	if err != nil {
		return toAPIError(err)
	}
	if outcome.NeedsTrustConfirmation() {
		return c.JSON(http.StatusOK, CertificateResponse{Certificate: outcome.Certificate})
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/v1"+outcome.Cluster.DocumentSelfLink)
	return c.JSON(http.StatusOK, outcome.Cluster)
}

// getCluster handles GET /clusters/:clusterId.
func (s *Server) getCluster(c echo.Context) error {
	dto, err := s.orch.GetCluster(c.Request().Context(), scopeOf(c), c.Param("clusterId"))
	if err != nil {
		return toAPIError(err)
	}
	return c.JSON(http.StatusOK, dto)
}

// patchCluster handles PATCH /clusters/:clusterId.
func (s *Server) patchCluster(c echo.Context) error {
	spec, err := s.bindClusterSpec(c)
	if err != nil {
		return err
	}

	dto, err := s.orch.PatchCluster(c.Request().Context(), scopeOf(c), c.Param("clusterId"), spec)
	if err != nil {
		return toAPIError(err)
	}
	return c.JSON(http.StatusOK, dto)
}

// deleteCluster handles DELETE /clusters/:clusterId.
func (s *Server) deleteCluster(c echo.Context) error {
	t, err := s.orch.DeleteCluster(c.Request().Context(), scopeOf(c), c.Param("clusterId"))
	if err != nil {
		return toAPIError(err)
	}
	return s.awaitTeardown(c, t)
}

// awaitTeardown answers 204 when the teardown completes within the
// configured wait, and 202 with the task reference otherwise.
func (s *Server) awaitTeardown(c echo.Context, t *cluster.Teardown) error {
	select {
	case <-t.Done():
		return s.teardownResult(c, t)
	default:
	}

	timer := time.NewTimer(s.config.Cluster.DeleteWait)
	defer timer.Stop()

	select {
	case <-t.Done():
		return s.teardownResult(c, t)
	case <-timer.C:
	case <-c.Request().Context().Done():
	}

	return c.JSON(http.StatusAccepted, TeardownResponse{
		ClusterID: t.ClusterID,
		HostID:    t.HostID,
		TaskID:    t.TaskID(),
		Stage:     string(t.Stage()),
	})
}

func (s *Server) teardownResult(c echo.Context, t *cluster.Teardown) error {
	if err := t.Err(); err != nil {
		return toAPIError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// bindClusterSpec decodes and validates a cluster body. An empty body
// yields nil so the orchestrator reports the missing body.
func (s *Server) bindClusterSpec(c echo.Context) (*models.ClusterSpec, error) {
	if c.Request().ContentLength == 0 {
		return nil, nil
	}

	var spec models.ClusterSpec
	if err := (&echo.DefaultBinder{}).BindBody(c, &spec); err != nil {
		return nil, BadRequestError("Invalid request body", err.Error())
	}

	if result := s.validator.ValidateClusterSpec(&spec); !result.Valid {
		return nil, ValidationError("Validation failed", result.FieldErrors())
	}
	return &spec, nil
}
