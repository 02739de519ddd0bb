package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medportal/internal/config"
	"medportal/internal/guard"
	"medportal/internal/middleware"
	"medportal/internal/models"
	"medportal/internal/repository"
	"medportal/internal/security"
	"medportal/internal/service"
)

// HealthCheck is one dependency reported by /healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type HandlerSet struct {
	log     zerolog.Logger
	cfg     *config.AppConfig
	auth    *service.AuthService
	avatars *service.AvatarService
	guard   *guard.Guard
	checks  []HealthCheck
}

// NewHandlerSet wires the API. avatars may be nil when no object storage
// is configured; picture uploads then answer 503.
func NewHandlerSet(
	log zerolog.Logger,
	cfg *config.AppConfig,
	auth *service.AuthService,
	avatars *service.AvatarService,
	g *guard.Guard,
	checks ...HealthCheck,
) HandlerSet {
	return HandlerSet{
		log:     log,
		cfg:     cfg,
		auth:    auth,
		avatars: avatars,
		guard:   g,
		checks:  checks,
	}
}

// Routes mounts the API under router.
func (h HandlerSet) Routes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
	}

	authed := v1.Group("", middleware.Authenticate(h.guard))
	{
		authed.GET("/auth/session", h.Session)
		authed.GET("/auth/me", h.Me)
		authed.POST("/auth/password", h.ChangePassword)
		authed.PUT("/account/picture", h.UploadPicture)

		authed.GET("/patient/dashboard", middleware.RequireRoles(h.guard, models.RolePatient), h.Dashboard)
		authed.GET("/doctor/dashboard", middleware.RequireRoles(h.guard, models.RoleDoctor), h.Dashboard)
		authed.GET("/staff/dashboard", middleware.RequireRoles(h.guard, models.RoleStaff), h.Dashboard)
	}
}

// writeError maps service failures to responses. Authentication failures
// share one body so callers cannot tell which check failed.
func (h HandlerSet) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed"})
	case errors.Is(err, service.ErrDuplicateAccount):
		c.JSON(http.StatusConflict, gin.H{"error": "account_exists"})
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrInvalidPicture),
		errors.Is(err, security.ErrWeakInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
	default:
		h.log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}
}

func currentIdentity(c *gin.Context) (security.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return identity, ok
}
