package middleware

import (
	"github.com/gin-gonic/gin"

	"medportal/internal/guard"
	"medportal/internal/models"
)

// RequireRoles must follow Authenticate. A role outside roles is sent to its
// own landing resource, or to login when it has none.
func RequireRoles(g *guard.Guard, roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			deny(c, g.Decide(guard.State{Status: guard.Unauthenticated}))
			return
		}

		decision := g.Decide(guard.State{Status: guard.Authenticated, Identity: identity}, roles...)
		if decision.Outcome != guard.Proceed {
			deny(c, decision)
			return
		}

		c.Next()
	}
}
