package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"evalgo.org/stratum/internal/cluster"
)

const contextKeyScope = "scope"

// ValidateContentType middleware ensures that requests with a body have the correct Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch c.Request().Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			return next(c)
		}

		if c.Request().ContentLength == 0 {
			return next(c)
		}

		contentType := c.Request().Header.Get(echo.HeaderContentType)
		if !strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
			return &APIError{
				Code:      http.StatusUnsupportedMediaType,
				ErrorCode: CodeInvalidRequest,
				Message:   "Invalid Content-Type",
				Details:   "Content-Type must be 'application/json'. Got: " + contentType,
			}
		}
		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")
		if accept == "" {
			return next(c)
		}

		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}
		return next(c)
	}
}

// ValidateIDFormat checks the clusterId and hostId path parameters.
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range []string{"clusterId", "hostId"} {
			id := c.Param(name)
			if id == "" {
				continue
			}
			if strings.ContainsAny(id, " \t/") {
				return BadRequestError("Invalid ID format", name+" cannot contain spaces or slashes")
			}
			if len(id) > 256 {
				return BadRequestError("Invalid ID format", name+" must not exceed 256 characters")
			}
		}
		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return next(c)
	}
}

// RequestLogger logs one line per request through slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			switch {
			case v.Error != nil && v.Status >= http.StatusInternalServerError:
				logger.Error("request failed", append(attrs, "error", v.Error)...)
			case v.Error != nil:
				logger.Info("request rejected", append(attrs, "error", v.Error)...)
			default:
				logger.Debug("request", attrs...)
			}
			return nil
		},
	})
}

// projectScope resolves the caller's project and stores the scope for the
// handlers. It runs after authentication.
func (s *Server) projectScope(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		project, err := s.authMiddle.ResolveProject(c)
		if err != nil {
			return toAPIError(err)
		}
		c.Set(contextKeyScope, cluster.Scope{Project: project})
		return next(c)
	}
}

func scopeOf(c echo.Context) cluster.Scope {
	scope, _ := c.Get(contextKeyScope).(cluster.Scope)
	return scope
}
