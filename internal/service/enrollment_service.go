package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academico-api/internal/lifecycle"
	"github.com/noah-isme/academico-api/internal/models"
	"github.com/noah-isme/academico-api/internal/repository"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
)

const summaryCachePattern = "enrollments:*"

type enrollmentStore interface {
	FindByID(ctx context.Context, id int64) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	CreateOpen(ctx context.Context, enrollment *models.Enrollment) error
	TransitionStatus(ctx context.Context, id, studentID int64, from, to models.EnrollmentStatus, currentSemester *int) error
	SoftDelete(ctx context.Context, id int64) error
}

type studentReader interface {
	FindByID(ctx context.Context, id int64) (*models.Student, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id int64) (*models.Course, error)
}

type contractWorkflow interface {
	Issue(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error)
	Accept(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error)
}

type documentChecker interface {
	AllMandatoryApproved(ctx context.Context, studentID int64) (bool, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type transitionRecorder interface {
	RecordTransition(from, to models.EnrollmentStatus)
	ObserveDBQuery(query string, duration time.Duration)
}

type summaryInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AuditContext identifies the actor behind a mutating request.
type AuditContext struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// EnrollStudentRequest is the payload to open a new enrollment.
type EnrollStudentRequest struct {
	StudentID      int64  `json:"student_id" validate:"required"`
	CourseID       int64  `json:"course_id" validate:"required"`
	EnrollmentDate string `json:"enrollment_date" validate:"required,datetime=2006-01-02"`
	Semester       int    `json:"semester" validate:"required,min=1,max=2"`
	Year           int    `json:"year" validate:"required,gte=2000,lte=2100"`
}

// EnrollmentService owns the enrollment lifecycle. All status changes funnel
// through its transition methods, which consult the state machine before
// touching the repository.
type EnrollmentService struct {
	enrollments enrollmentStore
	students    studentReader
	courses     courseReader
	contracts   contractWorkflow
	documents   documentChecker
	audits      auditWriter
	metrics     transitionRecorder
	cache       summaryInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService creates an EnrollmentService.
func NewEnrollmentService(
	enrollments enrollmentStore,
	students studentReader,
	courses courseReader,
	contracts contractWorkflow,
	documents documentChecker,
	audits auditWriter,
	metrics transitionRecorder,
	cache summaryInvalidator,
	validator *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		students:    students,
		courses:     courses,
		contracts:   contracts,
		documents:   documents,
		audits:      audits,
		metrics:     metrics,
		cache:       cache,
		validator:   validator,
		logger:      logger,
	}
}

// Enroll opens a new enrollment in CONTRACT status and issues the contract
// for its first period. At most one open enrollment per student is allowed.
func (s *EnrollmentService) Enroll(ctx context.Context, req *EnrollStudentRequest, audit AuditContext) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	enrollmentDate, err := time.Parse("2006-01-02", req.EnrollmentDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment_date must be formatted as YYYY-MM-DD")
	}
	if enrollmentDate.After(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment date cannot be in the future")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is not active")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not active")
	}

	enrollment := &models.Enrollment{
		StudentID:      req.StudentID,
		CourseID:       req.CourseID,
		Status:         models.EnrollmentStatusContract,
		EnrollmentDate: enrollmentDate,
		Semester:       req.Semester,
		Year:           req.Year,
	}
	if err := s.enrollments.CreateOpen(ctx, enrollment); err != nil {
		var conflict *repository.OpenConflictError
		if errors.As(err, &conflict) {
			return nil, appErrors.Clone(appErrors.ErrEnrollmentOpen,
				fmt.Sprintf("student %d already holds enrollment %d with status %s", req.StudentID, conflict.EnrollmentID, conflict.Status))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if _, err := s.contracts.Issue(ctx, enrollment.ID, req.Semester, req.Year); err != nil {
		// discard the row so the student is not stuck holding an open
		// enrollment without a contract
		if delErr := s.enrollments.SoftDelete(ctx, enrollment.ID); delErr != nil {
			s.logger.Error("failed to discard enrollment after contract issuance failure",
				zap.Int64("enrollment_id", enrollment.ID),
				zap.Error(delErr))
		}
		return nil, err
	}

	s.recordAudit(ctx, audit, models.AuditActionEnrollmentCreate, enrollment.ID, map[string]interface{}{
		"student_id": req.StudentID,
		"course_id":  req.CourseID,
		"status":     enrollment.Status,
		"semester":   req.Semester,
		"year":       req.Year,
	})
	s.invalidateSummary(ctx)

	detail, err := s.enrollments.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load created enrollment")
	}
	return detail, nil
}

// AcceptContract stamps acceptance on the current period contract and moves
// the enrollment from CONTRACT to PENDING.
func (s *EnrollmentService) AcceptContract(ctx context.Context, id int64, audit AuditContext) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, decision := lifecycle.Next(enrollment.Status, lifecycle.EventAcceptContract); !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, decision.Reason)
	}

	if _, err := s.contracts.Accept(ctx, enrollment.ID, enrollment.Semester, enrollment.Year); err != nil {
		return nil, err
	}

	if _, err := s.applyTransition(ctx, enrollment, lifecycle.EventAcceptContract, nil); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit, models.AuditActionContractAccept, enrollment.ID, map[string]interface{}{
		"semester": enrollment.Semester,
		"year":     enrollment.Year,
	})
	s.invalidateSummary(ctx)
	return s.detail(ctx, id)
}

// Activate moves a PENDING enrollment to ACTIVE once every mandatory
// document of the student is approved.
func (s *EnrollmentService) Activate(ctx context.Context, id int64, audit AuditContext) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, decision := lifecycle.Next(enrollment.Status, lifecycle.EventApproveDocuments); !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, decision.Reason)
	}

	approved, err := s.documents.AllMandatoryApproved(ctx, enrollment.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check mandatory documents")
	}
	if !approved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "mandatory documents are not all approved")
	}

	var currentSemester *int
	if enrollment.CurrentSemester == nil {
		first := 1
		currentSemester = &first
	}
	to, err := s.applyTransition(ctx, enrollment, lifecycle.EventApproveDocuments, currentSemester)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit, models.AuditActionEnrollmentTransition, enrollment.ID, map[string]interface{}{
		"from": enrollment.Status,
		"to":   to,
	})
	s.invalidateSummary(ctx)
	return s.detail(ctx, id)
}

// Cancel transitions an enrollment into the terminal CANCELLED status.
// Cancelling an already cancelled enrollment is an error.
func (s *EnrollmentService) Cancel(ctx context.Context, id int64, audit AuditContext) (*models.EnrollmentDetail, error) {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.applyTransition(ctx, enrollment, lifecycle.EventCancel, nil); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit, models.AuditActionEnrollmentCancel, enrollment.ID, map[string]interface{}{
		"from": enrollment.Status,
	})
	s.invalidateSummary(ctx)
	return s.detail(ctx, id)
}

// AdvanceSemester moves an active enrollment into its next semester, or
// completes it when the final semester of the course has been reached.
func (s *EnrollmentService) AdvanceSemester(ctx context.Context, id int64, audit AuditContext) (*models.EnrollmentDetail, error) {
	detail, err := s.detail(ctx, id)
	if err != nil {
		return nil, err
	}

	current := 1
	if detail.CurrentSemester != nil {
		current = *detail.CurrentSemester
	}

	event := lifecycle.EventAdvanceSemester
	var next *int
	if current >= detail.CourseSemesters {
		event = lifecycle.EventComplete
	} else {
		n := current + 1
		next = &n
	}

	to, err := s.applyTransition(ctx, &detail.Enrollment, event, next)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit, models.AuditActionEnrollmentTransition, detail.ID, map[string]interface{}{
		"from":             detail.Status,
		"to":               to,
		"current_semester": current,
	})
	s.invalidateSummary(ctx)
	return s.detail(ctx, id)
}

// Delete soft-deletes an enrollment. Only terminal enrollments may be removed.
func (s *EnrollmentService) Delete(ctx context.Context, id int64, audit AuditContext) error {
	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return err
	}
	if !enrollment.Status.Terminal() {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("enrollment in status %s cannot be deleted", enrollment.Status))
	}
	if err := s.enrollments.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	s.recordAudit(ctx, audit, models.AuditActionEnrollmentTransition, id, map[string]interface{}{"deleted": true})
	s.invalidateSummary(ctx)
	return nil
}

// Get returns one enrollment with student and course info.
func (s *EnrollmentService) Get(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	return s.detail(ctx, id)
}

// List returns enrollments matching the filter plus the total count.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	started := time.Now()
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("enrollments_list", time.Since(started))
	}
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, total, nil
}

// applyTransition resolves the event against the state machine and performs
// the compare-and-set status write.
func (s *EnrollmentService) applyTransition(ctx context.Context, enrollment *models.Enrollment, event lifecycle.Event, currentSemester *int) (models.EnrollmentStatus, error) {
	to, decision := lifecycle.Next(enrollment.Status, event)
	if !decision.Allowed {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, decision.Reason)
	}

	if err := s.enrollments.TransitionStatus(ctx, enrollment.ID, enrollment.StudentID, enrollment.Status, to, currentSemester); err != nil {
		var conflict *repository.OpenConflictError
		switch {
		case errors.As(err, &conflict):
			return "", appErrors.Clone(appErrors.ErrEnrollmentOpen, conflict.Error())
		case errors.Is(err, repository.ErrStaleStatus):
			return "", appErrors.Clone(appErrors.ErrConflict, "enrollment status changed concurrently, retry the operation")
		default:
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordTransition(enrollment.Status, to)
	}
	s.logger.Info("enrollment transitioned",
		zap.Int64("enrollment_id", enrollment.ID),
		zap.String("from", string(enrollment.Status)),
		zap.String("to", string(to)))
	return to, nil
}

func (s *EnrollmentService) findEnrollment(ctx context.Context, id int64) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) detail(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	started := time.Now()
	detail, err := s.enrollments.FindDetailByID(ctx, id)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("enrollments_find_detail", time.Since(started))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

func (s *EnrollmentService) recordAudit(ctx context.Context, audit AuditContext, action string, enrollmentID int64, payload map[string]interface{}) {
	if s.audits == nil {
		return
	}
	newValues, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal audit payload", zap.Error(err))
		newValues = nil
	}
	resourceID := strconv.FormatInt(enrollmentID, 10)
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "enrollments",
		ResourceID: &resourceID,
		NewValues:  newValues,
		IPAddress:  audit.IPAddress,
		UserAgent:  audit.UserAgent,
	}
	if audit.UserID != "" {
		userID := audit.UserID
		entry.UserID = &userID
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *EnrollmentService) invalidateSummary(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, summaryCachePattern); err != nil {
		s.logger.Warn("failed to invalidate enrollment cache", zap.Error(err))
	}
}
