package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academico-api/internal/models"
	"github.com/noah-isme/academico-api/internal/service"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
	"github.com/noah-isme/academico-api/pkg/response"
)

type enrollmentService interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	Get(ctx context.Context, id int64) (*models.EnrollmentDetail, error)
	Enroll(ctx context.Context, req *service.EnrollStudentRequest, audit service.AuditContext) (*models.EnrollmentDetail, error)
	AcceptContract(ctx context.Context, id int64, audit service.AuditContext) (*models.EnrollmentDetail, error)
	Activate(ctx context.Context, id int64, audit service.AuditContext) (*models.EnrollmentDetail, error)
	Cancel(ctx context.Context, id int64, audit service.AuditContext) (*models.EnrollmentDetail, error)
	AdvanceSemester(ctx context.Context, id int64, audit service.AuditContext) (*models.EnrollmentDetail, error)
	Delete(ctx context.Context, id int64, audit service.AuditContext) error
}

// EnrollmentHandler exposes enrollment lifecycle endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query int false "Filter by student"
// @Param courseId query int false "Filter by course"
// @Param status query string false "Filter by status"
// @Param semester query int false "Filter by semester"
// @Param year query int false "Filter by year"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	if studentID, err := strconv.ParseInt(c.Query("studentId"), 10, 64); err == nil {
		filter.StudentID = studentID
	}
	if courseID, err := strconv.ParseInt(c.Query("courseId"), 10, 64); err == nil {
		filter.CourseID = courseID
	}
	if status := strings.ToUpper(c.Query("status")); status != "" {
		filter.Status = models.EnrollmentStatus(status)
		if !filter.Status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status"))
			return
		}
	}
	if semester, err := strconv.Atoi(c.Query("semester")); err == nil {
		filter.Semester = semester
	}
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, total, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get one enrollment
// @Tags Enrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment id"))
		return
	}
	enrollment, err := h.enrollments.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Create godoc
// @Summary Enroll a student
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollStudentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), &req, auditFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// AcceptContract godoc
// @Summary Accept the period contract
// @Tags Enrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/accept-contract [put]
func (h *EnrollmentHandler) AcceptContract(c *gin.Context) {
	h.transition(c, h.enrollments.AcceptContract)
}

// Activate godoc
// @Summary Activate a pending enrollment
// @Tags Enrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/activate [put]
func (h *EnrollmentHandler) Activate(c *gin.Context) {
	h.transition(c, h.enrollments.Activate)
}

// Cancel godoc
// @Summary Cancel an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/cancel [put]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	h.transition(c, h.enrollments.Cancel)
}

// AdvanceSemester godoc
// @Summary Advance an active enrollment to its next semester
// @Tags Enrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/advance [put]
func (h *EnrollmentHandler) AdvanceSemester(c *gin.Context) {
	h.transition(c, h.enrollments.AdvanceSemester)
}

// Delete godoc
// @Summary Remove a terminal enrollment
// @Tags Enrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 204
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment id"))
		return
	}
	if err := h.enrollments.Delete(c.Request.Context(), id, auditFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type transitionFunc func(ctx context.Context, id int64, audit service.AuditContext) (*models.EnrollmentDetail, error)

func (h *EnrollmentHandler) transition(c *gin.Context, fn transitionFunc) {
	id, ok := idParam(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment id"))
		return
	}
	enrollment, err := fn(c.Request.Context(), id, auditFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
