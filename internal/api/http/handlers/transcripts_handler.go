package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// TranscriptsHandler resolves signed transcript links.
type TranscriptsHandler struct {
	links *auth.TokenManager
}

// NewTranscriptsHandler constructs handler.
func NewTranscriptsHandler(links *auth.TokenManager) *TranscriptsHandler {
	return &TranscriptsHandler{links: links}
}

// Direct GET /direct?token= redirects to the transcript attachment.
func (h *TranscriptsHandler) Direct(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return apperrors.NewValidationError("token required", nil)
	}
	claims, err := h.links.ParseTranscriptLink(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid or expired transcript link")
	}
	c.Set("X-Transcript-Digest", claims.Digest)
	return c.Redirect(claims.URL, http.StatusFound)
}
