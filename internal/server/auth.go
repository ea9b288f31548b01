package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"tnxgate/internal/engine"
	"tnxgate/internal/engine/auth"
)

// HeaderAPIKey carries a bot key.
const HeaderAPIKey = "X-Api-Key"

type AuthConfig struct {
	JWTSecret string
	// Issuer, when set, must match the iss claim.
	Issuer string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.tenantID = p.TenantID
		info.botID = p.BotID
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" && p.TenantID != "" {
		return p, nil
	}
	return auth.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// Claims are the bearer token claims the service reads.
type Claims struct {
	jwt.RegisteredClaims
	TenantID      string   `json:"tenant_id"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

func authenticateJWT(token string, cfg AuthConfig) (auth.Principal, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return auth.Principal{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return auth.Principal{}, err
	}
	if !parsed.Valid {
		return auth.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return auth.Principal{}, errors.New("sub and tenant_id claims required")
	}
	return auth.Principal{
		UserID:        claims.Subject,
		TenantID:      claims.TenantID,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Roles:         claims.Roles,
		Source:        "jwt",
	}, nil
}

// SignToken mints an HS256 bearer token. Used by the CLI and tests.
func SignToken(secret string, claims Claims) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	specPath := path.Join(basePath, "openapi.json")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || req.URL.Path == specPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get(HeaderAPIKey))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					writeError(w, req, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
					return
				}
				principal, err := authenticateJWT(token, cfg)
				if err != nil {
					writeError(w, req, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKey != "" {
				principal, err := e.VerifyKey(req.Context(), apiKey)
				if err != nil {
					writeError(w, req, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			writeError(w, req, http.StatusUnauthorized, "unauthorized", "authentication required")
		})
	}
}
