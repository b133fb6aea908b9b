package httpgin

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
	// RoleGateway is held by payment collaborators that report outcomes.
	RoleGateway = "gateway"

	actorKey = "actor"

	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the caller a request acts on behalf of.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) Anonymous() bool { return a.ID == "" }

// SignToken issues an HS256 token for sub with role.
func SignToken(secret, sub, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		Sub:  sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(secret, raw string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// ActorMiddleware resolves the caller. With a secret, a bearer token is
// verified and a bad one is rejected; a missing one leaves the request
// anonymous. Without a secret the X-Actor-ID and X-Actor-Role headers are
// trusted, which is only meant for local runs.
func ActorMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actor Actor

		if secret == "" {
			actor = Actor{
				ID:   strings.TrimSpace(c.GetHeader(headerActorID)),
				Role: strings.TrimSpace(c.GetHeader(headerActorRole)),
			}
		} else if h := c.GetHeader("Authorization"); h != "" {
			raw, ok := strings.CutPrefix(h, "Bearer ")
			if !ok {
				unauthorized(c, "authorization must be a bearer token")
				return
			}
			claims, err := parseToken(secret, strings.TrimSpace(raw))
			if err != nil {
				unauthorized(c, "invalid token")
				return
			}
			actor = Actor{ID: claims.Sub, Role: claims.Role}
		}

		if actor.ID != "" && actor.Role == "" {
			actor.Role = RoleCustomer
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireRole rejects callers holding none of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := actorOf(c)
		if a.Anonymous() {
			unauthorized(c, "authentication required")
			return
		}
		if !slices.Contains(roles, a.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Code:  "FORBIDDEN",
				Error: "role " + a.Role + " may not call this endpoint",
			})
			return
		}
		c.Next()
	}
}

func actorOf(c *gin.Context) Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return Actor{}
	}
	a, _ := v.(Actor)
	return a
}

// actorName is the audit name recorded on writes.
func actorName(c *gin.Context) string {
	a := actorOf(c)
	if a.Anonymous() {
		return "anonymous"
	}
	return a.ID
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Code:  "UNAUTHORIZED",
		Error: msg,
	})
}
