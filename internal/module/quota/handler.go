package quota

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cosplaymagic/server/internal/shared/response"
	"github.com/cosplaymagic/server/internal/utils/middleware"
)

// Response is the quota view returned over HTTP.
type Response struct {
	Used              int        `json:"used"`
	Limit             int        `json:"limit"`
	Remaining         int        `json:"remaining"`
	IsSubscribed      bool       `json:"isSubscribed"`
	SubscriptionStart *time.Time `json:"subscriptionStart,omitempty"`
	CanGenerate       bool       `json:"canGenerate"`
}

// ToResponse converts a record to its HTTP view.
func (r *Record) ToResponse() *Response {
	return &Response{
		Used:              r.Used,
		Limit:             r.Limit,
		Remaining:         r.Remaining(),
		IsSubscribed:      r.IsSubscribed,
		SubscriptionStart: r.SubscriptionStart,
		CanGenerate:       r.CanGenerate(),
	}
}

// Handler handles quota HTTP requests.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new quota handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes registers quota routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	q := r.Group("/quota")
	{
		q.GET("", h.Get)
		q.POST("/upgrade", h.Upgrade)
	}
}

// Get handles GET /quota.
func (h *Handler) Get(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	if identity == "" {
		response.Unauthorized(c, "Please log in to continue.")
		return
	}

	rec := h.ledger.Load(c.Request.Context(), identity)
	c.JSON(http.StatusOK, rec.ToResponse())
}

// Upgrade handles POST /quota/upgrade.
func (h *Handler) Upgrade(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	if identity == "" {
		response.Unauthorized(c, "Please log in to continue.")
		return
	}

	rec := h.ledger.Upgrade(c.Request.Context(), identity)
	c.JSON(http.StatusOK, rec.ToResponse())
}
