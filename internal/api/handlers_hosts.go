package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/models"
)

// listClusterHosts handles GET /clusters/:clusterId/hosts.
//
// Query parameters:
//   - $hostsFilter, $filter: OData filters on the hosts, joined with and
//   - customOptions: key=value custom property equalities, comma separated
//   - $limit, $skip: paging; nextPageLink points at the following page
func (s *Server) listClusterHosts(c echo.Context) error {
	where, err := parseFilter(c, "$hostsFilter", "$filter")
	if err != nil {
		return toAPIError(err)
	}
	options, err := parseCustomOptions(c)
	if err != nil {
		return err
	}
	limit, skip, err := parsePagination(c)
	if err != nil {
		return err
	}

	clusterID := c.Param("clusterId")
	page, err := s.orch.ListClusterHosts(c.Request().Context(), scopeOf(c), clusterID, cluster.HostListOptions{
		Where: where.And(options),
		Limit: limit,
		Skip:  skip,
	})
	if err != nil {
		return toAPIError(err)
	}

	resp := HostListResponse{
		DocumentLinks: make([]string, 0, len(page.Hosts)),
		Documents:     make(map[string]*models.Host, len(page.Hosts)),
		DocumentCount: len(page.Hosts),
	}
	for _, h := range page.Hosts {
		link := models.ClusterHostLink(clusterID, h.ID)
		resp.DocumentLinks = append(resp.DocumentLinks, link)
		resp.Documents[link] = h.Exposed()
	}
	if page.NextSkip > 0 {
		resp.NextPageLink = nextPageLink(c, page.NextSkip-skip, page.NextSkip)
	}
	return c.JSON(http.StatusOK, resp)
}

// addClusterHost handles POST /clusters/:clusterId/hosts.
func (s *Server) addClusterHost(c echo.Context) error {
	var spec *models.HostSpec
	if c.Request().ContentLength != 0 {
		spec = &models.HostSpec{}
		if err := (&echo.DefaultBinder{}).BindBody(c, spec); err != nil {
			return BadRequestError("Invalid request body", err.Error())
		}
		if result := s.validator.ValidateHostSpec(spec); !result.Valid {
			return ValidationError("Validation failed", result.FieldErrors())
		}
	}

	outcome, err := s.orch.AddHost(c.Request().Context(), scopeOf(c), c.Param("clusterId"), spec)
	if err != nil {
		return toAPIError(err)
	}
	if outcome.NeedsTrustConfirmation() {
		return c.JSON(http.StatusOK, CertificateResponse{Certificate: outcome.Certificate})
	}

	c.Response().Header().Set(echo.HeaderLocation,
		"/api/v1"+models.ClusterHostLink(c.Param("clusterId"), outcome.Host.ID))
	return c.JSON(http.StatusOK, outcome.Host.Exposed())
}

// getClusterHost handles GET /clusters/:clusterId/hosts/:hostId.
func (s *Server) getClusterHost(c echo.Context) error {
	host, err := s.orch.GetClusterHost(c.Request().Context(), scopeOf(c), c.Param("clusterId"), c.Param("hostId"))
	if err != nil {
		return toAPIError(err)
	}
	return c.JSON(http.StatusOK, host.Exposed())
}

// removeClusterHost handles DELETE /clusters/:clusterId/hosts/:hostId.
func (s *Server) removeClusterHost(c echo.Context) error {
	t, err := s.orch.RemoveHost(c.Request().Context(), scopeOf(c), c.Param("clusterId"), c.Param("hostId"))
	if err != nil {
		return toAPIError(err)
	}
	return s.awaitTeardown(c, t)
}
