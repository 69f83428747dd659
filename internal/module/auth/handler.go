package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cosplaymagic/server/internal/shared/response"
	"github.com/cosplaymagic/server/internal/utils/middleware"
)

// Handler handles authentication HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new auth handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers public auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
}

// RegisterProtectedRoutes registers routes that need a session.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/me", h.GetCurrentUser)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	resp, err := h.service.Login(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.service.Logout(c.Request.Context(), middleware.GetIdentity(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCurrentUser handles GET /auth/me.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	user, err := h.service.Current(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.Unauthorized(c, "Please log in to continue.")
			return
		}
		response.InternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
