// Package authgate is a bearer-token gate in front of the Command Surface,
// grounded on the teacher's internal/auth middleware pattern but narrowed
// from the teacher's full user/JWT auth service down to what spec.md §1's
// non-goals call for ("authentication is delegated to the transport layer
// as a bearer-token gate in front of the command channel"). daemon.token
// doubles as an HS256 signing secret: a request may present either the raw
// shared secret (simple deployments, scripts) or a JWT signed with it
// (short-lived tokens minted via IssueToken), grounded on the teacher's
// internal/auth JWT Claims shape.
package authgate

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Gate checks incoming requests against a single configured token. A zero
// value Gate (empty Token) is disabled and lets every request through,
// matching a fresh install with no token configured yet.
type Gate struct {
	Token string
}

// New builds a Gate from the daemon's configured token.
func New(token string) *Gate {
	return &Gate{Token: token}
}

// Enabled reports whether a token has been configured.
func (g *Gate) Enabled() bool {
	return g != nil && g.Token != ""
}

// Check verifies a raw "Authorization: Bearer <token>" header value,
// accepting either the shared secret itself or a JWT signed with it.
func (g *Gate) Check(authHeader string) bool {
	if !g.Enabled() {
		return true
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return false
	}
	supplied := strings.TrimPrefix(authHeader, prefix)
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(g.Token)) == 1 {
		return true
	}
	return g.checkJWT(supplied)
}

func (g *Gate) checkJWT(raw string) bool {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(g.Token), nil
	})
	return err == nil && token.Valid
}

// IssueToken mints a short-lived JWT signed with the gate's shared secret,
// for a CLI "login" flow that hands out expiring tokens instead of the raw
// daemon.token value.
func (g *Gate) IssueToken(ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(g.Token))
}

// GinMiddleware returns a gin.HandlerFunc enforcing the gate on every
// request it guards, rejecting with 401 on mismatch.
func (g *Gate) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Enabled() {
			c.Next()
			return
		}
		if !g.Check(c.GetHeader("Authorization")) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"kind":    "unauthorized",
					"message": "missing or invalid bearer token",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
