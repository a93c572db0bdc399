package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	WorkspaceIDKey contextKey = "workspace_id"
)

// Claims identifies the caller. Authorization decisions are made elsewhere;
// this service only needs to know who acted and in which workspace.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(token), nil
}

func parse(cfg JWTConfig, tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
	}
	return claims, nil
}

func bind(c echo.Context, userID, tenantID, workspaceID string) {
	c.Set("jwt_tenant_id", tenantID)
	c.Set("user_id", userID)
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, WorkspaceIDKey, workspaceID)
	c.SetRequest(c.Request().WithContext(ctx))
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c.Request())
			if err != nil {
				return err
			}
			claims, err := parse(cfg, tokenStr)
			if err != nil {
				return err
			}
			bind(c, claims.Subject, claims.TenantID, claims.WorkspaceID)
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as dev-user. A
// bearer token, when present, is still verified against cfg.
func DevAuthMiddleware(cfg JWTConfig, defaultTenant, defaultWorkspace string) echo.MiddlewareFunc {
	strict := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := strict(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && len(cfg.SigningKey) > 0 {
				return verified(c)
			}
			bind(c, "dev-user", defaultTenant, defaultWorkspace)
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// WorkspaceIDFromContext returns the workspace claim, or "" when the token
// carried none.
func WorkspaceIDFromContext(ctx context.Context) string {
	ws, _ := ctx.Value(WorkspaceIDKey).(string)
	return ws
}
