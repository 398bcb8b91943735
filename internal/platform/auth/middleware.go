package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ActorIDKey   contextKey = "actor_id"
	UserRolesKey contextKey = "user_roles"
)

// ActorHeader lets development callers pick the acting user.
const ActorHeader = "X-Actor-ID"

// DevActorID is the actor attributed to development requests that name none.
var DevActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Claims carries the acting user in Subject (a UUID) and their ledger roles.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Skipper bypasses authentication, typically AuthSkipper.
	Skipper func(c echo.Context) bool
}

func withIdentity(c echo.Context, actor uuid.UUID, roles []string) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, ActorIDKey, actor)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

// JWTMiddleware validates HS256 bearer tokens. Tokens whose subject is not a
// UUID are rejected: every mutation must be attributable.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := uuid.Parse(claims.Subject)
			if err != nil || actor == uuid.Nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a user id")
			}

			withIdentity(c, actor, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware grants admin to every request. The actor comes from the
// X-Actor-ID header when present, else DevActorID.
func DevAuthMiddleware(skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			actor := DevActorID
			if h := c.Request().Header.Get(ActorHeader); h != "" {
				id, err := uuid.Parse(h)
				if err != nil || id == uuid.Nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+ActorHeader+" header")
				}
				actor = id
			}
			withIdentity(c, actor, []string{"admin"})
			return next(c)
		}
	}
}

// IssueToken signs a token for actor. The ledger-server "token issue" command
// wraps it to mint service credentials.
func IssueToken(key []byte, issuer string, actor uuid.UUID, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ActorFromContext returns the authenticated actor, or uuid.Nil.
func ActorFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ActorIDKey).(uuid.UUID)
	return id
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// RequireActor rejects requests that carry no actor.
func RequireActor(c echo.Context) (uuid.UUID, error) {
	actor := ActorFromContext(c.Request().Context())
	if actor == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "an authenticated actor is required")
	}
	return actor, nil
}
