package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/stratum/internal/config"
)

const (
	// ContextKeyClaims is the key for storing JWT claims in context
	ContextKeyClaims = "claims"

	// HeaderAPIKey carries an API key instead of a bearer token
	HeaderAPIKey = "X-API-Key"
)

// ErrProjectForbidden is returned when the requested project is not granted.
var ErrProjectForbidden = errors.New("project not granted")

// Middleware is the authentication middleware
type Middleware struct {
	jwtService *JWTService
	config     *config.Config
	apiKeys    []APIKey
	log        *slog.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(cfg *config.Config, logger *slog.Logger) (*Middleware, error) {
	keys, err := ParseAPIKeys(cfg.Security.APIKeyHashes)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		jwtService: NewJWTService(cfg),
		config:     cfg,
		apiKeys:    keys,
		log:        logger.With("component", "auth"),
	}, nil
}

// RequireAuth accepts a bearer token or an API key and stores the
// resulting claims in the context.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.config.Security.AuthEnabled {
			return next(c)
		}

		if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
			project, err := MatchAPIKey(m.apiKeys, key)
			if err != nil {
				m.log.Debug("api key rejected", "remote", c.RealIP())
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			c.Set(ContextKeyClaims, &Claims{Projects: []string{project}})
			return next(c)
		}

		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
		}

		claims, err := m.jwtService.ValidateToken(parts[1])
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(ContextKeyClaims, claims)
		return next(c)
	}
}

// GetClaims extracts JWT claims from Echo context
func GetClaims(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}

// ResolveProject determines the project a request acts in.
//
// Without authentication the project header is taken as is. With
// authentication the header must name a granted project; when the header
// is absent and exactly one project is granted, that project is used.
// An empty result means no project could be determined.
func (m *Middleware) ResolveProject(c echo.Context) (string, error) {
	requested := strings.TrimSpace(c.Request().Header.Get(m.config.Cluster.ProjectHeader))

	if !m.config.Security.AuthEnabled {
		return requested, nil
	}

	claims, ok := GetClaims(c)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if requested != "" {
		if !claims.HasProject(requested) {
			return "", ErrProjectForbidden
		}
		return requested, nil
	}
	if len(claims.Projects) == 1 {
		return claims.Projects[0], nil
	}
	return "", nil
}
