package generation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cosplaymagic/server/internal/module/history"
	"github.com/cosplaymagic/server/internal/module/quota"
	apperrors "github.com/cosplaymagic/server/internal/shared/errors"
	"github.com/cosplaymagic/server/internal/shared/response"
	"github.com/cosplaymagic/server/internal/utils/middleware"
)

const (
	personField    = "person_image"
	characterField = "character_image"
)

// Response is returned for a successful generation.
type Response struct {
	Entry    history.Entry   `json:"entry"`
	Prompt   string          `json:"prompt"`
	Image    string          `json:"image"`
	MIMEType string          `json:"mimeType"`
	Quota    *quota.Response `json:"quota"`
}

// Handler handles generation HTTP requests.
type Handler struct {
	service   *Service
	validator *UploadValidator
}

// NewHandler creates a new generation handler.
func NewHandler(service *Service, validator *UploadValidator) *Handler {
	return &Handler{service: service, validator: validator}
}

// RegisterRoutes registers generation routes. extra runs before each
// handler, typically a rate limiter.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, extra ...gin.HandlerFunc) {
	g := r.Group("/generations", extra...)
	{
		g.POST("", h.Create)
		g.POST("/regenerate", h.Regenerate)
	}
}

// Create handles POST /generations.
func (h *Handler) Create(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	if identity == "" {
		response.Unauthorized(c, msgNotLoggedIn)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.validator.maxBytes+(1<<20))

	personFile, perr := c.FormFile(personField)
	characterFile, cerr := c.FormFile(characterField)
	if perr != nil || cerr != nil {
		var maxErr *http.MaxBytesError
		if errors.As(perr, &maxErr) || errors.As(cerr, &maxErr) {
			response.AbortWithError(c, h.validator.tooLarge())
			return
		}
		response.AbortWithError(c, apperrors.BadRequest("Please upload both your photo and a character image."))
		return
	}

	person, err := h.validator.Read(personFile)
	if err != nil {
		handleError(c, err)
		return
	}
	character, err := h.validator.Read(characterFile)
	if err != nil {
		handleError(c, err)
		return
	}

	out, err := h.service.Generate(c.Request.Context(), identity, person, character)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(out))
}

// Regenerate handles POST /generations/regenerate.
func (h *Handler) Regenerate(c *gin.Context) {
	identity := middleware.GetIdentity(c)
	if identity == "" {
		response.Unauthorized(c, msgNotLoggedIn)
		return
	}

	var in RegenerateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "Invalid request body.")
		return
	}

	out, err := h.service.Regenerate(c.Request.Context(), identity, in)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(out))
}

func toResponse(out *Outcome) Response {
	return Response{
		Entry:    out.Entry,
		Prompt:   out.Entry.Prompt,
		Image:    out.Entry.ImageBytes,
		MIMEType: OutputMIMEType,
		Quota:    out.Quota.ToResponse(),
	}
}

// handleError maps generation errors to HTTP responses.
func handleError(c *gin.Context, err error) {
	var genErr *Error
	if errors.As(err, &genErr) {
		response.AbortWithError(c, toAppError(genErr))
		return
	}

	response.HandleErrorWithDefault(c, err, []response.ErrorMapping{
		{Err: ErrGenerationInProgress, Status: http.StatusConflict, Code: "GENERATION_IN_PROGRESS", Message: "A generation is already in progress."},
		{Err: ErrMissingPrompt, Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Cannot regenerate without an initial prompt."},
		{Err: history.ErrEntryNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "History entry not found"},
	})
}

func toAppError(e *Error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch e.Kind {
	case KindQuotaExceeded:
		if e.Message == msgNotLoggedIn {
			appErr = apperrors.Unauthorized(e.Message)
		} else {
			appErr = apperrors.QuotaExceeded(e.Message)
		}
	case KindUnconfigured:
		appErr = apperrors.Unconfigured("Cosplay image creation failed: " + e.Message)
	default:
		appErr = apperrors.GenerationFailed("Cosplay image creation failed: " + e.Message)
	}
	appErr.Err = e
	return appErr.WithDetails(map[string]any{"kind": string(e.Kind)})
}
