// Package auth provides authentication for the Stratum API.
// Callers present either a JWT bearer token whose claims name the projects
// they may act in, or an API key bound to one project.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"evalgo.org/stratum/internal/config"
)

var (
	// ErrInvalidToken is returned when a JWT token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a JWT token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidAPIKey is returned when no configured hash matches an API key
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// Claims represents JWT custom claims
type Claims struct {
	// Projects lists the project links the caller may act in
	Projects []string `json:"projects"`
	jwt.RegisteredClaims
}

// HasProject reports whether the claims grant access to project.
func (c *Claims) HasProject(project string) bool {
	for _, p := range c.Projects {
		if p == project {
			return true
		}
	}
	return false
}

// JWTService issues and validates project tokens.
type JWTService struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg *config.Config) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Security.JWTSecret),
		expiration: cfg.Security.JWTExpiration,
	}
}

// GenerateToken issues a token for subject scoped to the given projects.
func (s *JWTService) GenerateToken(subject string, projects []string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if len(projects) == 0 {
		return "", fmt.Errorf("at least one project is required")
	}

	now := time.Now()
	claims := Claims{
		Projects: projects,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "stratum",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateAPIKey generates a random API key
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey hashes an API key for the configuration file
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// CompareAPIKey compares an API key with its hash
func CompareAPIKey(key, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
}

// APIKey is a configured key hash bound to a project.
type APIKey struct {
	Project string
	Hash    string
}

// ParseAPIKeys reads "<project>=<bcrypt hash>" entries.
func ParseAPIKeys(entries []string) ([]APIKey, error) {
	keys := make([]APIKey, 0, len(entries))
	for _, e := range entries {
		project, hash, ok := strings.Cut(strings.TrimSpace(e), "=")
		if !ok || project == "" || hash == "" {
			return nil, fmt.Errorf("api key entry must be <project>=<hash>")
		}
		keys = append(keys, APIKey{Project: project, Hash: hash})
	}
	return keys, nil
}

// MatchAPIKey returns the project of the first hash matching key.
func MatchAPIKey(keys []APIKey, key string) (string, error) {
	for _, k := range keys {
		if CompareAPIKey(key, k.Hash) == nil {
			return k.Project, nil
		}
	}
	return "", ErrInvalidAPIKey
}
