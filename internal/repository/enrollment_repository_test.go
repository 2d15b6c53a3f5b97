package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academico-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryCreateOpen(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1, $2)")).
		WithArgs(enrollmentLockClass, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, status FROM enrollments WHERE student_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))
	mock.ExpectQuery("INSERT INTO enrollments").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{
		StudentID:      7,
		CourseID:       3,
		Status:         models.EnrollmentStatusContract,
		EnrollmentDate: time.Now().UTC(),
		Semester:       1,
		Year:           2025,
	}
	err := repo.CreateOpen(context.Background(), enrollment)
	require.NoError(t, err)
	require.Equal(t, int64(11), enrollment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateOpenConflict(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1, $2)")).
		WithArgs(enrollmentLockClass, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, status FROM enrollments WHERE student_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(5), models.EnrollmentStatusPending))
	mock.ExpectRollback()

	enrollment := &models.Enrollment{
		StudentID:      7,
		CourseID:       3,
		Status:         models.EnrollmentStatusContract,
		EnrollmentDate: time.Now().UTC(),
		Semester:       1,
		Year:           2025,
	}
	err := repo.CreateOpen(context.Background(), enrollment)
	require.Error(t, err)

	var conflict *OpenConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, int64(5), conflict.EnrollmentID)
	require.Equal(t, models.EnrollmentStatusPending, conflict.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateOpenRejectsTerminalStatus(t *testing.T) {
	db, _, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	err := repo.CreateOpen(context.Background(), &models.Enrollment{
		StudentID: 1,
		CourseID:  1,
		Status:    models.EnrollmentStatusCancelled,
	})
	require.Error(t, err)
}

func TestEnrollmentRepositoryTransitionStatusStale(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.TransitionStatus(context.Background(), 11, 7, models.EnrollmentStatusActive, models.EnrollmentStatusCancelled, nil)
	require.ErrorIs(t, err, ErrStaleStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryTransitionStatusToOpenRechecksInvariant(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1, $2)")).
		WithArgs(enrollmentLockClass, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, status FROM enrollments WHERE student_id").
		WithArgs(int64(7), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))
	mock.ExpectExec("UPDATE enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.TransitionStatus(context.Background(), 11, 7, models.EnrollmentStatusContract, models.EnrollmentStatusPending, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCarryToPeriodWritesNewPeriod(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1, $2)")).
		WithArgs(enrollmentLockClass, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, status FROM enrollments WHERE student_id").
		WithArgs(int64(7), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))
	mock.ExpectExec("UPDATE enrollments").
		WithArgs(int64(11), models.EnrollmentStatusReenrollment, models.EnrollmentStatusContract, 2, 2025, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CarryToPeriod(context.Background(), 11, 7, models.EnrollmentStatusReenrollment, models.EnrollmentStatusContract, 2, 2025)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCarryToPeriodStale(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1, $2)")).
		WithArgs(enrollmentLockClass, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, status FROM enrollments WHERE student_id").
		WithArgs(int64(7), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))
	mock.ExpectExec("UPDATE enrollments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CarryToPeriod(context.Background(), 11, 7, models.EnrollmentStatusReenrollment, models.EnrollmentStatusContract, 2, 2025)
	require.ErrorIs(t, err, ErrStaleStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListEligibleForReenrollment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	sem := 3
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "enrollment_date", "current_semester", "semester", "year", "created_at", "updated_at"}).
		AddRow(int64(1), int64(7), int64(3), models.EnrollmentStatusActive, now, sem, 1, 2025, now, now)
	mock.ExpectQuery("SELECT (.+) FROM enrollments e").
		WithArgs(2, 2025).
		WillReturnRows(rows)

	enrollments, err := repo.ListEligibleForReenrollment(context.Background(), 2, 2025)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.Equal(t, int64(1), enrollments[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"status", "total"}).
		AddRow(models.EnrollmentStatusActive, 12).
		AddRow(models.EnrollmentStatusCancelled, 4)
	mock.ExpectQuery("SELECT status, COUNT").WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, counts[models.EnrollmentStatusActive])
	require.Equal(t, 4, counts[models.EnrollmentStatusCancelled])
	require.NoError(t, mock.ExpectationsWereMet())
}
