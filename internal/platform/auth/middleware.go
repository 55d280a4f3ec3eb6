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
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

const (
	RoleAdmin         = "admin"
	RolePharmacist    = "pharmacist"
	RoleTechnician    = "technician"
	RolePrescriber    = "prescriber"
	RoleSafetyOfficer = "safety-officer"
)

type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification instead of JWKS.
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var jwks *JWKSCache
	if len(cfg.SigningKey) == 0 {
		jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			tokenStr = strings.TrimSpace(tokenStr)
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			keyfunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
			if jwks != nil {
				keyfunc = jwks.keyfunc(c.Request().Context())
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyfunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("jwt_tenant_id", claims.TenantID)
			c.SetRequest(c.Request().WithContext(withIdentity(c.Request().Context(), claims.Subject, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets anonymous requests through as an admin in the
// default tenant. Requests that do carry a bearer token are verified by
// fallback, when one is given.
func DevAuthMiddleware(fallback echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if fallback != nil {
			verified = fallback(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return verified(c)
			}
			c.Set("jwt_tenant_id", "default")
			c.SetRequest(c.Request().WithContext(withIdentity(c.Request().Context(), "dev-user", []string{RoleAdmin})))
			return next(c)
		}
	}
}

func withIdentity(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
