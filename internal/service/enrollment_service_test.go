package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academico-api/internal/models"
	"github.com/noah-isme/academico-api/internal/repository"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
)

type mockEnrollmentStore struct {
	enrollments     map[int64]models.Enrollment
	eligible        []models.Enrollment
	conflict        *repository.OpenConflictError
	transitionErr   error
	transitions     []string
	deleted         []int64
	courseSemesters int
	nextID          int64
}

func (m *mockEnrollmentStore) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	semesters := m.courseSemesters
	if semesters == 0 {
		semesters = 8
	}
	return &models.EnrollmentDetail{
		Enrollment:      e,
		StudentName:     "Ana Souza",
		CourseName:      "Systems Analysis",
		CourseSemesters: semesters,
	}, nil
}

func (m *mockEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var list []models.EnrollmentDetail
	for _, e := range m.enrollments {
		list = append(list, models.EnrollmentDetail{Enrollment: e})
	}
	return list, len(list), nil
}

func (m *mockEnrollmentStore) CreateOpen(ctx context.Context, enrollment *models.Enrollment) error {
	if m.conflict != nil {
		return m.conflict
	}
	if m.enrollments == nil {
		m.enrollments = make(map[int64]models.Enrollment)
	}
	m.nextID++
	enrollment.ID = m.nextID
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentStore) TransitionStatus(ctx context.Context, id, studentID int64, from, to models.EnrollmentStatus, currentSemester *int) error {
	if m.transitionErr != nil {
		return m.transitionErr
	}
	e, ok := m.enrollments[id]
	if !ok || e.Status != from {
		return repository.ErrStaleStatus
	}
	e.Status = to
	if currentSemester != nil {
		v := *currentSemester
		e.CurrentSemester = &v
	}
	m.enrollments[id] = e
	m.transitions = append(m.transitions, fmt.Sprintf("%s->%s", from, to))
	return nil
}

func (m *mockEnrollmentStore) CarryToPeriod(ctx context.Context, id, studentID int64, from, to models.EnrollmentStatus, semester, year int) error {
	if m.transitionErr != nil {
		return m.transitionErr
	}
	e, ok := m.enrollments[id]
	if !ok || e.Status != from {
		return repository.ErrStaleStatus
	}
	e.Status = to
	e.Semester = semester
	e.Year = year
	m.enrollments[id] = e
	m.transitions = append(m.transitions, fmt.Sprintf("%s->%s", from, to))
	return nil
}

func (m *mockEnrollmentStore) SoftDelete(ctx context.Context, id int64) error {
	if _, ok := m.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockEnrollmentStore) ListEligibleForReenrollment(ctx context.Context, semester, year int) ([]models.Enrollment, error) {
	return m.eligible, nil
}

type mockStudentReader struct {
	students map[int64]models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockCourseReader struct {
	courses map[int64]models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

type mockContractWorkflow struct {
	issued          []int64
	accepted        []int64
	acceptedPeriods []string
	issueErr        error
	failFor         map[int64]error
	acceptErr       error
}

func (m *mockContractWorkflow) Issue(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error) {
	if m.issueErr != nil {
		return nil, m.issueErr
	}
	if err, ok := m.failFor[enrollmentID]; ok {
		return nil, err
	}
	m.issued = append(m.issued, enrollmentID)
	return &models.Contract{ID: enrollmentID, EnrollmentID: enrollmentID, Semester: semester, Year: year}, nil
}

func (m *mockContractWorkflow) Accept(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error) {
	if m.acceptErr != nil {
		return nil, m.acceptErr
	}
	now := time.Now().UTC()
	m.accepted = append(m.accepted, enrollmentID)
	m.acceptedPeriods = append(m.acceptedPeriods, fmt.Sprintf("%d:%d/%d", enrollmentID, semester, year))
	return &models.Contract{EnrollmentID: enrollmentID, Semester: semester, Year: year, AcceptedAt: &now}, nil
}

type mockDocumentChecker struct {
	approved bool
	err      error
}

func (m *mockDocumentChecker) AllMandatoryApproved(ctx context.Context, studentID int64) (bool, error) {
	return m.approved, m.err
}

type mockAuditWriter struct {
	entries []models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.entries = append(m.entries, *log)
	return nil
}

type mockRecorder struct {
	transitions []string
	queries     []string
	batches     int
	processed   int
	failed      int
}

func (m *mockRecorder) RecordTransition(from, to models.EnrollmentStatus) {
	m.transitions = append(m.transitions, fmt.Sprintf("%s->%s", from, to))
}

func (m *mockRecorder) ObserveDBQuery(query string, duration time.Duration) {
	m.queries = append(m.queries, query)
}

func (m *mockRecorder) ObserveReenrollmentBatch(duration time.Duration, processed, failed int) {
	m.batches++
	m.processed = processed
	m.failed = failed
}

type mockInvalidator struct {
	patterns []string
}

func (m *mockInvalidator) DeleteByPattern(ctx context.Context, pattern string) error {
	m.patterns = append(m.patterns, pattern)
	return nil
}

type enrollmentFixture struct {
	service   *EnrollmentService
	store     *mockEnrollmentStore
	contracts *mockContractWorkflow
	documents *mockDocumentChecker
	audits    *mockAuditWriter
	recorder  *mockRecorder
	cache     *mockInvalidator
}

func newEnrollmentFixture() *enrollmentFixture {
	store := &mockEnrollmentStore{enrollments: map[int64]models.Enrollment{}}
	students := &mockStudentReader{students: map[int64]models.Student{
		1: {ID: 1, FullName: "Ana Souza", Active: true},
		2: {ID: 2, FullName: "Bruno Lima", Active: false},
	}}
	courses := &mockCourseReader{courses: map[int64]models.Course{
		10: {ID: 10, Name: "Systems Analysis", DurationSemesters: 8, Active: true},
		11: {ID: 11, Name: "Closed Course", DurationSemesters: 4, Active: false},
	}}
	contracts := &mockContractWorkflow{}
	documents := &mockDocumentChecker{approved: true}
	audits := &mockAuditWriter{}
	recorder := &mockRecorder{}
	cache := &mockInvalidator{}

	svc := NewEnrollmentService(store, students, courses, contracts, documents, audits, recorder, cache, validator.New(), zap.NewNop())
	return &enrollmentFixture{
		service:   svc,
		store:     store,
		contracts: contracts,
		documents: documents,
		audits:    audits,
		recorder:  recorder,
		cache:     cache,
	}
}

func (f *enrollmentFixture) seed(id int64, status models.EnrollmentStatus, currentSemester *int) {
	f.store.enrollments[id] = models.Enrollment{
		ID:              id,
		StudentID:       1,
		CourseID:        10,
		Status:          status,
		EnrollmentDate:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CurrentSemester: currentSemester,
		Semester:        1,
		Year:            2026,
	}
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

func TestEnrollCreatesContractEnrollment(t *testing.T) {
	f := newEnrollmentFixture()

	detail, err := f.service.Enroll(context.Background(), &EnrollStudentRequest{
		StudentID:      1,
		CourseID:       10,
		EnrollmentDate: "2026-02-01",
		Semester:       1,
		Year:           2026,
	}, AuditContext{UserID: "admin-1"})

	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusContract, detail.Status)
	assert.Nil(t, detail.CurrentSemester)
	require.Len(t, f.contracts.issued, 1)
	assert.Equal(t, detail.ID, f.contracts.issued[0])
	require.Len(t, f.audits.entries, 1)
	assert.Equal(t, models.AuditActionEnrollmentCreate, f.audits.entries[0].Action)
	assert.Contains(t, f.cache.patterns, "enrollments:*")
}

func TestEnrollAcceptsTodayDate(t *testing.T) {
	f := newEnrollmentFixture()

	_, err := f.service.Enroll(context.Background(), &EnrollStudentRequest{
		StudentID:      1,
		CourseID:       10,
		EnrollmentDate: time.Now().UTC().Format("2006-01-02"),
		Semester:       1,
		Year:           2026,
	}, AuditContext{})

	require.NoError(t, err)
}

func TestEnrollRejectsFutureDate(t *testing.T) {
	f := newEnrollmentFixture()

	_, err := f.service.Enroll(context.Background(), &EnrollStudentRequest{
		StudentID:      1,
		CourseID:       10,
		EnrollmentDate: time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"),
		Semester:       1,
		Year:           2026,
	}, AuditContext{})

	assertErrorCode(t, err, appErrors.ErrValidation.Code)
	assert.Empty(t, f.contracts.issued)
}

func TestEnrollRejectsInactiveStudent(t *testing.T) {
	f := newEnrollmentFixture()

	_, err := f.service.Enroll(context.Background(), &EnrollStudentRequest{
		StudentID:      2,
		CourseID:       10,
		EnrollmentDate: "2026-02-01",
		Semester:       1,
		Year:           2026,
	}, AuditContext{})

	assertErrorCode(t, err, appErrors.ErrPreconditionFailed.Code)
}

func TestEnrollConflictNamesExistingEnrollment(t *testing.T) {
	f := newEnrollmentFixture()
	f.store.conflict = &repository.OpenConflictError{EnrollmentID: 5, Status: models.EnrollmentStatusPending}

	_, err := f.service.Enroll(context.Background(), &EnrollStudentRequest{
		StudentID:      1,
		CourseID:       10,
		EnrollmentDate: "2026-02-01",
		Semester:       1,
		Year:           2026,
	}, AuditContext{})

	assertErrorCode(t, err, appErrors.ErrEnrollmentOpen.Code)
	assert.Contains(t, err.Error(), "enrollment 5")
	assert.Contains(t, err.Error(), "PENDING")
}

func TestEnrollDiscardsEnrollmentWhenIssueFails(t *testing.T) {
	f := newEnrollmentFixture()
	f.contracts.issueErr = errors.New("render failed")

	_, err := f.service.Enroll(context.Background(), &EnrollStudentRequest{
		StudentID:      1,
		CourseID:       10,
		EnrollmentDate: "2026-02-01",
		Semester:       1,
		Year:           2026,
	}, AuditContext{})

	require.Error(t, err)
	// the half-created enrollment must not keep blocking the student
	assert.Len(t, f.store.deleted, 1)
	assert.Empty(t, f.contracts.issued)
	assert.Empty(t, f.audits.entries)
}

func TestListObservesQueryTiming(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusActive, nil)

	_, _, err := f.service.List(context.Background(), models.EnrollmentFilter{})

	require.NoError(t, err)
	assert.Contains(t, f.recorder.queries, "enrollments_list")
}

func TestAcceptContractMovesToPending(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusContract, nil)

	detail, err := f.service.AcceptContract(context.Background(), 1, AuditContext{UserID: "student-1"})

	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, detail.Status)
	assert.Equal(t, []int64{1}, f.contracts.accepted)
	assert.Contains(t, f.recorder.transitions, "CONTRACT->PENDING")
}

func TestAcceptContractRefusedWhenActive(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusActive, nil)

	_, err := f.service.AcceptContract(context.Background(), 1, AuditContext{})

	assertErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
	assert.Empty(t, f.contracts.accepted)
}

func TestActivateRequiresApprovedDocuments(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusPending, nil)
	f.documents.approved = false

	_, err := f.service.Activate(context.Background(), 1, AuditContext{})

	assertErrorCode(t, err, appErrors.ErrPreconditionFailed.Code)
	assert.Equal(t, models.EnrollmentStatusPending, f.store.enrollments[1].Status)
}

func TestActivateSetsFirstSemester(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusPending, nil)

	detail, err := f.service.Activate(context.Background(), 1, AuditContext{})

	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	require.NotNil(t, detail.CurrentSemester)
	assert.Equal(t, 1, *detail.CurrentSemester)

	require.Len(t, f.audits.entries, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(f.audits.entries[0].NewValues, &payload))
	assert.Equal(t, "PENDING", payload["from"])
	assert.Equal(t, "ACTIVE", payload["to"])
}

func TestActivateAlreadyActive(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusActive, nil)

	_, err := f.service.Activate(context.Background(), 1, AuditContext{})

	assertErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
	assert.Contains(t, err.Error(), "already active")
}

func TestCancelTwiceFails(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusActive, nil)

	_, err := f.service.Cancel(context.Background(), 1, AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, f.store.enrollments[1].Status)

	_, err = f.service.Cancel(context.Background(), 1, AuditContext{})
	assertErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
	assert.Contains(t, err.Error(), "already cancelled")
}

func TestAdvanceSemesterIncrements(t *testing.T) {
	f := newEnrollmentFixture()
	current := 2
	f.seed(1, models.EnrollmentStatusActive, &current)

	detail, err := f.service.AdvanceSemester(context.Background(), 1, AuditContext{})

	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	require.NotNil(t, detail.CurrentSemester)
	assert.Equal(t, 3, *detail.CurrentSemester)
}

func TestAdvanceSemesterCompletesAtFinalSemester(t *testing.T) {
	f := newEnrollmentFixture()
	current := 8
	f.seed(1, models.EnrollmentStatusActive, &current)

	detail, err := f.service.AdvanceSemester(context.Background(), 1, AuditContext{})

	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, detail.Status)
	assert.Contains(t, f.recorder.transitions, "ACTIVE->COMPLETED")
}

func TestAdvanceSemesterRefusedWhenPending(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusPending, nil)

	_, err := f.service.AdvanceSemester(context.Background(), 1, AuditContext{})

	assertErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestDeleteRequiresTerminalStatus(t *testing.T) {
	f := newEnrollmentFixture()
	f.seed(1, models.EnrollmentStatusActive, nil)
	f.seed(2, models.EnrollmentStatusCancelled, nil)

	err := f.service.Delete(context.Background(), 1, AuditContext{})
	assertErrorCode(t, err, appErrors.ErrConflict.Code)

	err = f.service.Delete(context.Background(), 2, AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, f.store.deleted)
}

func TestGetUnknownEnrollment(t *testing.T) {
	f := newEnrollmentFixture()

	_, err := f.service.Get(context.Background(), 99)

	assertErrorCode(t, err, appErrors.ErrNotFound.Code)
}
