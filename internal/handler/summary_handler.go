package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academico-api/internal/models"
	"github.com/noah-isme/academico-api/pkg/response"
)

type summaryService interface {
	StatusSummary(ctx context.Context) (*models.StatusSummary, error)
}

// SummaryHandler exposes enrollment aggregate endpoints.
type SummaryHandler struct {
	summaries summaryService
}

// NewSummaryHandler constructs SummaryHandler.
func NewSummaryHandler(summaries summaryService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// StatusSummary godoc
// @Summary Enrollment counts per status
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/summary [get]
func (h *SummaryHandler) StatusSummary(c *gin.Context) {
	summary, err := h.summaries.StatusSummary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
