package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Dashboard is the landing payload of a role area. Access has already been
// decided by the guard middleware.
func (h HandlerSet) Dashboard(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	home, _ := h.guard.Policy().Landing.Home(identity.Role)
	c.JSON(http.StatusOK, gin.H{
		"area":    string(identity.Role),
		"subject": identity.Subject,
		"home":    home,
	})
}
