package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academico-api/internal/models"
	"github.com/noah-isme/academico-api/internal/service"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
	"github.com/noah-isme/academico-api/pkg/response"
)

type reenrollmentService interface {
	Process(ctx context.Context, adminID string, req *service.GlobalReenrollmentRequest, audit service.AuditContext) (*models.ReenrollmentResult, error)
}

// ReenrollmentHandler exposes the global reenrollment batch endpoint.
type ReenrollmentHandler struct {
	reenrollments reenrollmentService
}

// NewReenrollmentHandler constructs ReenrollmentHandler.
func NewReenrollmentHandler(reenrollments reenrollmentService) *ReenrollmentHandler {
	return &ReenrollmentHandler{reenrollments: reenrollments}
}

// Process godoc
// @Summary Run the global reenrollment batch
// @Description Carries every eligible active enrollment into the requested period. Requires the administrator password.
// @Tags Reenrollment
// @Accept json
// @Produce json
// @Param payload body service.GlobalReenrollmentRequest true "Reenrollment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/reenrollment [post]
func (h *ReenrollmentHandler) Process(c *gin.Context) {
	var req service.GlobalReenrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.reenrollments.Process(c.Request.Context(), claims.UserID, &req, auditFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
