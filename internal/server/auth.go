package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"lettertrack/internal/identity"
	"lettertrack/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	Logger                 *zap.Logger
}

// Principal is the authenticated actor before its profile is looked up.
type Principal struct {
	ActorID string
	Source  string
}

func (c AuthConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func unauthenticated(msg string) huma.StatusError {
	return newAPIError(http.StatusUnauthorized, "unauthenticated", msg, nil)
}

// callerFromContext returns the identity the auth middleware resolved.
func callerFromContext(ctx context.Context) (identity.Identity, huma.StatusError) {
	id, err := identity.FromContext(ctx)
	if err != nil {
		return identity.Identity{}, unauthenticated("authentication required")
	}
	return id, nil
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{ActorID: claims.Subject, Source: "jwt"}, nil
}

// signDevToken mints a short-lived HS256 token for local testing.
func signDevToken(secret, actorID string, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	exp := now.Add(12 * time.Hour)
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		Issuer:    "lettertrack-dev",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if apiKey.ActorID == "" {
		return Principal{}, errors.New("api key missing actor")
	}
	return Principal{ActorID: apiKey.ActorID, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func authenticate(req *http.Request, cfg AuthConfig, r repo.Repo) (Principal, huma.StatusError) {
	authz := strings.TrimSpace(req.Header.Get("Authorization"))
	apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
	legacyActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

	switch {
	case authz != "":
		token, ok := bearerToken(authz)
		if !ok {
			return Principal{}, unauthenticated("invalid credentials")
		}
		p, err := authenticateJWT(token, cfg.JWTSecret)
		if err != nil {
			cfg.logger().Debug("jwt rejected", zap.Error(err))
			return Principal{}, unauthenticated("invalid credentials")
		}
		return p, nil
	case apiKeyHeader != "":
		p, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
		if err != nil {
			return Principal{}, unauthenticated("invalid credentials")
		}
		return p, nil
	case legacyActor != "" && cfg.AllowLegacyActorHeader:
		cfg.logger().Warn("using legacy X-Actor-Id header without auth; ignored when Authorization or X-Api-Key is present",
			zap.String("actor_id", legacyActor))
		return Principal{ActorID: legacyActor, Source: "legacy_header"}, nil
	}
	return Principal{}, unauthenticated("authentication required")
}

// newAuthMiddleware authenticates every request under basePath except the
// public routes, then resolves the actor's profile into an identity.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo, resolver identity.Resolver) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
		path.Join(basePath, "openapi.json"):   true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			principal, authErr := authenticate(req, cfg, r)
			if authErr != nil {
				respondStatusError(w, authErr)
				return
			}
			caller, err := resolver.Resolve(req.Context(), principal.ActorID)
			if err != nil {
				if errors.Is(err, identity.ErrUnauthenticated) {
					respondStatusError(w, unauthenticated(err.Error()))
					return
				}
				respondStatusError(w, handleError(err))
				return
			}
			ctx := identity.WithIdentity(req.Context(), caller)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
