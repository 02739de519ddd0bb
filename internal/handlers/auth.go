package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medportal/internal/middleware"
	"medportal/internal/models"
	"medportal/internal/service"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}

type accountResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Name       string    `json:"name"`
	Phone      *string   `json:"phone,omitempty"`
	PictureURL *string   `json:"pictureUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func newAccountResponse(account models.Account) accountResponse {
	return accountResponse{
		ID:         account.ID,
		Email:      account.Email,
		Role:       string(account.Role),
		Name:       account.Name,
		Phone:      account.Phone,
		PictureURL: account.PictureURL,
		CreatedAt:  account.CreatedAt,
	}
}

func (h HandlerSet) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": newAccountResponse(account)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginUser struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      loginUser `json:"user"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	maxAge := int(time.Until(result.Token.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, result.Token.Token, maxAge, "/", "", h.cfg.TLS.Enabled, true)

	c.JSON(http.StatusOK, loginResponse{
		Token:     result.Token.Token,
		ExpiresAt: result.Token.ExpiresAt,
		User: loginUser{
			ID:   result.Account.ID,
			Role: string(result.Account.Role),
			Name: result.Account.Name,
		},
	})
}

// Logout only clears the cookie. Tokens are not tracked server side and
// stay valid until they expire.
func (h HandlerSet) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", h.cfg.TLS.Enabled, true)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Session(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject": identity.Subject,
		"role":    string(identity.Role),
	})
}

func (h HandlerSet) Me(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	account, err := h.auth.Profile(c.Request.Context(), identity.Subject)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": newAccountResponse(account)})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.auth.ChangePassword(c.Request.Context(), identity.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
