package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/stratum/internal/query"
)

// maxPageSize caps $limit.
const maxPageSize = 1000

// parsePagination reads $limit and $skip. A zero limit means the server
// default applies.
func parsePagination(c echo.Context) (limit, skip int, err error) {
	if v := c.QueryParam("$limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, BadRequestError("Invalid $limit", "$limit must be a positive integer. Got: "+v)
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}

	if v := c.QueryParam("$skip"); v != "" {
		skip, err = strconv.Atoi(v)
		if err != nil || skip < 0 {
			return 0, 0, BadRequestError("Invalid $skip", "$skip must be a non-negative integer. Got: "+v)
		}
	}
	return limit, skip, nil
}

// parseFilter parses the given OData filter parameters and joins them.
func parseFilter(c echo.Context, params ...string) (query.Filter, error) {
	var f query.Filter
	for _, p := range params {
		expr := c.QueryParam(p)
		if strings.TrimSpace(expr) == "" {
			continue
		}
		parsed, err := query.Parse(expr)
		if err != nil {
			return nil, err
		}
		f = f.And(parsed)
	}
	return f, nil
}

// parseCustomOptions reads customOptions=key=value,key2=value2 into custom
// property equalities.
func parseCustomOptions(c echo.Context) (query.Filter, error) {
	raw := c.QueryParam("customOptions")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var f query.Filter
	for _, opt := range strings.Split(raw, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key, value, ok := strings.Cut(opt, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, NewAPIError(http.StatusBadRequest, CodeInvalidFilter, "Invalid customOptions",
				"customOptions must be key=value pairs separated by commas. Got: "+opt)
		}
		f = f.And(query.Eq("customProperties."+key, strings.TrimSpace(value)))
	}
	return f, nil
}

// nextPageLink rebuilds the request URL for the page starting at skip.
func nextPageLink(c echo.Context, limit, skip int) string {
	params := url.Values{}
	for k, v := range c.QueryParams() {
		if k == "$skip" || k == "$limit" {
			continue
		}
		params[k] = v
	}
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$skip", strconv.Itoa(skip))
	return c.Request().URL.Path + "?" + params.Encode()
}
