package history

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cosplaymagic/server/internal/shared/response"
	"github.com/cosplaymagic/server/internal/utils/middleware"
)

// Handler handles history HTTP requests.
type Handler struct {
	store *Store
}

// NewHandler creates a new history handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers history routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	hist := r.Group("/history")
	{
		hist.GET("", h.List)
		hist.DELETE("", h.Clear)
		hist.GET("/:id", h.Get)
		hist.GET("/:id/image", h.Image)
		hist.DELETE("/:id", h.Remove)
	}
}

// List handles GET /history. With ?summary=true image payloads are omitted.
func (h *Handler) List(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	entries := h.store.Load(c.Request.Context(), identity)
	if summary, _ := strconv.ParseBool(c.Query("summary")); summary {
		out := make([]Summary, len(entries))
		for i := range entries {
			out[i] = entries[i].Summarize()
		}
		c.JSON(http.StatusOK, gin.H{"entries": out, "total": len(out)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// Get handles GET /history/:id.
func (h *Handler) Get(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	entry, err := h.store.Get(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		response.NotFound(c, "History entry")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Image handles GET /history/:id/image and serves the JPEG as a download.
func (h *Handler) Image(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	entry, err := h.store.Get(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		response.NotFound(c, "History entry")
		return
	}

	data, err := entry.Decode()
	if err != nil {
		response.InternalError(c, fmt.Errorf("decode entry %s: %w", entry.ID, err))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="cosplay_magic_%s.jpeg"`, entry.ID))
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Remove handles DELETE /history/:id.
func (h *Handler) Remove(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	entries := h.store.Remove(c.Request.Context(), identity, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// Clear handles DELETE /history.
func (h *Handler) Clear(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	h.store.Clear(c.Request.Context(), identity)
	c.Status(http.StatusNoContent)
}

func requireIdentity(c *gin.Context) (string, bool) {
	identity := middleware.GetIdentity(c)
	if identity == "" {
		response.Unauthorized(c, "Please log in to continue.")
		return "", false
	}
	return identity, true
}
