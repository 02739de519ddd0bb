package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medportal/internal/guard"
	"medportal/internal/security"
)

const (
	TokenCookie = "portal_token"
	identityKey = "identity"
)

// Authenticate admits requests carrying a valid session token and binds the
// asserted identity to the context. Any validation failure is answered as
// unauthenticated, whatever its kind.
func Authenticate(g *guard.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := g.Resolve(TokenFromRequest(c.Request))

		// The client went away while the token was checked; no decision is
		// applied to an abandoned request.
		if c.Request.Context().Err() != nil {
			c.Abort()
			return
		}

		decision := g.Decide(state)
		if decision.Outcome != guard.Proceed {
			deny(c, decision)
			return
		}

		c.Set(identityKey, decision.Identity)
		c.Next()
	}
}

// TokenFromRequest reads the bearer token, falling back to the session
// cookie.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func CurrentIdentity(c *gin.Context) (security.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return security.Identity{}, false
	}
	identity, ok := v.(security.Identity)
	return identity, ok
}

// deny answers a redirect decision: browsers are sent to the location,
// API clients get a status and the location to go to.
func deny(c *gin.Context, decision guard.Decision) {
	if wantsHTML(c.Request) {
		c.Redirect(http.StatusFound, decision.Location)
		c.Abort()
		return
	}

	status, code := http.StatusUnauthorized, "unauthenticated"
	if decision.Outcome == guard.RedirectRoleHome {
		status, code = http.StatusForbidden, "forbidden"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":    code,
		"redirect": decision.Location,
	})
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
