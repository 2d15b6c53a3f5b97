package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academico-api/internal/lifecycle"
	"github.com/noah-isme/academico-api/internal/models"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
)

type reenrollmentStore interface {
	ListEligibleForReenrollment(ctx context.Context, semester, year int) ([]models.Enrollment, error)
	TransitionStatus(ctx context.Context, id, studentID int64, from, to models.EnrollmentStatus, currentSemester *int) error
	CarryToPeriod(ctx context.Context, id, studentID int64, from, to models.EnrollmentStatus, semester, year int) error
}

type passwordVerifier interface {
	VerifyPassword(ctx context.Context, userID, password string) error
}

type periodContractIssuer interface {
	Issue(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error)
}

type batchRecorder interface {
	RecordTransition(from, to models.EnrollmentStatus)
	ObserveReenrollmentBatch(duration time.Duration, processed, failed int)
}

// GlobalReenrollmentRequest opens a new period for every eligible enrollment.
// The administrator re-enters the account password to confirm the batch.
type GlobalReenrollmentRequest struct {
	Semester int    `json:"semester" validate:"required,min=1,max=2"`
	Year     int    `json:"year" validate:"required,gte=2000,lte=2100"`
	Password string `json:"password" validate:"required"`
}

// ReenrollmentService runs the global reenrollment batch. Each eligible
// enrollment is carried into the new period independently, so one failure
// never aborts the rest of the run.
type ReenrollmentService struct {
	enrollments reenrollmentStore
	contracts   periodContractIssuer
	credentials passwordVerifier
	audits      auditWriter
	metrics     batchRecorder
	cache       summaryInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	timeout     time.Duration
}

// NewReenrollmentService creates a ReenrollmentService.
func NewReenrollmentService(
	enrollments reenrollmentStore,
	contracts periodContractIssuer,
	credentials passwordVerifier,
	audits auditWriter,
	metrics batchRecorder,
	cache summaryInvalidator,
	validator *validator.Validate,
	logger *zap.Logger,
	timeout time.Duration,
) *ReenrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ReenrollmentService{
		enrollments: enrollments,
		contracts:   contracts,
		credentials: credentials,
		audits:      audits,
		metrics:     metrics,
		cache:       cache,
		validator:   validator,
		logger:      logger,
		timeout:     timeout,
	}
}

// Process verifies the administrator password, then carries every eligible
// active enrollment into the requested period: ACTIVE -> REENROLLMENT, issue
// the new period contract, then REENROLLMENT -> CONTRACT with the row's
// semester and year moved to the new period. No enrollment is touched before
// the credential check passes.
func (s *ReenrollmentService) Process(ctx context.Context, adminID string, req *GlobalReenrollmentRequest, audit AuditContext) (*models.ReenrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reenrollment payload")
	}
	if adminID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing authenticated user")
	}
	if err := s.credentials.VerifyPassword(ctx, adminID, req.Password); err != nil {
		return nil, err
	}

	batchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	eligible, err := s.enrollments.ListEligibleForReenrollment(batchCtx, req.Semester, req.Year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list eligible enrollments")
	}

	result := &models.ReenrollmentResult{TotalStudents: len(eligible)}
	for _, enrollment := range eligible {
		if ctxErr := batchCtx.Err(); ctxErr != nil {
			result.Failures = append(result.Failures, models.ReenrollmentFailure{
				EnrollmentID: enrollment.ID,
				Reason:       "batch aborted: " + ctxErr.Error(),
			})
			continue
		}
		if err := s.processEnrollment(batchCtx, enrollment, req.Semester, req.Year); err != nil {
			s.logger.Warn("reenrollment item failed",
				zap.Int64("enrollment_id", enrollment.ID),
				zap.Error(err))
			result.Failures = append(result.Failures, models.ReenrollmentFailure{
				EnrollmentID: enrollment.ID,
				Reason:       err.Error(),
			})
			continue
		}
		result.AffectedEnrollmentIDs = append(result.AffectedEnrollmentIDs, enrollment.ID)
	}

	duration := time.Since(started)
	if s.metrics != nil {
		s.metrics.ObserveReenrollmentBatch(duration, len(result.AffectedEnrollmentIDs), len(result.Failures))
	}
	s.recordBatchAudit(ctx, audit, req, result)
	s.invalidateSummary(ctx)

	s.logger.Info("global reenrollment finished",
		zap.Int("semester", req.Semester),
		zap.Int("year", req.Year),
		zap.Int("eligible", result.TotalStudents),
		zap.Int("reenrolled", len(result.AffectedEnrollmentIDs)),
		zap.Int("failed", len(result.Failures)),
		zap.Duration("duration", duration))
	return result, nil
}

func (s *ReenrollmentService) processEnrollment(ctx context.Context, enrollment models.Enrollment, semester, year int) error {
	marker, decision := lifecycle.Next(enrollment.Status, lifecycle.EventBeginReenrollment)
	if !decision.Allowed {
		return errors.New(decision.Reason)
	}

	if err := s.enrollments.TransitionStatus(ctx, enrollment.ID, enrollment.StudentID, enrollment.Status, marker, nil); err != nil {
		return fmt.Errorf("mark reenrollment: %w", err)
	}
	s.recordTransition(enrollment.Status, marker)

	if _, err := s.contracts.Issue(ctx, enrollment.ID, semester, year); err != nil {
		s.revertMarker(enrollment, marker)
		return fmt.Errorf("issue period contract: %w", err)
	}

	if err := s.enrollments.CarryToPeriod(ctx, enrollment.ID, enrollment.StudentID, marker, models.EnrollmentStatusContract, semester, year); err != nil {
		return fmt.Errorf("finalize contract status: %w", err)
	}
	s.recordTransition(marker, models.EnrollmentStatusContract)
	return nil
}

// revertMarker restores ACTIVE after a failed per-item run. The revert uses
// its own deadline because the batch context may already be expired.
func (s *ReenrollmentService) revertMarker(enrollment models.Enrollment, marker models.EnrollmentStatus) {
	revertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.enrollments.TransitionStatus(revertCtx, enrollment.ID, enrollment.StudentID, marker, models.EnrollmentStatusActive, nil); err != nil {
		s.logger.Error("failed to revert reenrollment marker",
			zap.Int64("enrollment_id", enrollment.ID),
			zap.Error(err))
		return
	}
	s.recordTransition(marker, models.EnrollmentStatusActive)
}

func (s *ReenrollmentService) recordTransition(from, to models.EnrollmentStatus) {
	if s.metrics != nil {
		s.metrics.RecordTransition(from, to)
	}
}

func (s *ReenrollmentService) recordBatchAudit(ctx context.Context, audit AuditContext, req *GlobalReenrollmentRequest, result *models.ReenrollmentResult) {
	if s.audits == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"semester":   req.Semester,
		"year":       req.Year,
		"eligible":   result.TotalStudents,
		"reenrolled": len(result.AffectedEnrollmentIDs),
		"failed":     len(result.Failures),
	})
	if err != nil {
		s.logger.Warn("failed to marshal batch audit payload", zap.Error(err))
	}
	entry := &models.AuditLog{
		Action:    models.AuditActionReenrollmentBatch,
		Resource:  "enrollments",
		NewValues: payload,
		IPAddress: audit.IPAddress,
		UserAgent: audit.UserAgent,
	}
	if audit.UserID != "" {
		userID := audit.UserID
		entry.UserID = &userID
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write batch audit log", zap.Error(err))
	}
}

func (s *ReenrollmentService) invalidateSummary(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, summaryCachePattern); err != nil {
		s.logger.Warn("failed to invalidate enrollment cache", zap.Error(err))
	}
}
