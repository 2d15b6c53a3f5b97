package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academico-api/internal/models"
)

// enrollmentLockClass namespaces the per-student advisory lock.
const enrollmentLockClass = 4217

// openStatusSet is the subset of statuses constrained to one per student.
// It spans a subset of the enum, so it cannot be a plain unique index.
const openStatusSet = "('ACTIVE', 'PENDING', 'CONTRACT')"

// OpenConflictError names the enrollment blocking the one-open-enrollment rule.
type OpenConflictError struct {
	EnrollmentID int64
	Status       models.EnrollmentStatus
}

func (e *OpenConflictError) Error() string {
	return fmt.Sprintf("student already holds enrollment %d with status %s", e.EnrollmentID, e.Status)
}

// ErrStaleStatus reports that the expected status no longer matched at write time.
var ErrStaleStatus = errors.New("enrollment status changed concurrently")

// EnrollmentRepository handles persistence of enrollments. It is the only
// write path for the status column.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns a non-deleted enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, status, enrollment_date, current_semester, semester, year, created_at, updated_at, deleted_at
        FROM enrollments WHERE id = $1 AND deleted_at IS NULL`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.enrollment_date, e.current_semester, e.semester, e.year, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS course_name, c.duration_semesters AS course_semesters
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.id = $1 AND e.deleted_at IS NULL`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	conditions := []string{"e.deleted_at IS NULL"}
	var args []interface{}

	if filter.StudentID != 0 {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != 0 {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Semester != 0 {
		conditions = append(conditions, fmt.Sprintf("e.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Year != 0 {
		conditions = append(conditions, fmt.Sprintf("e.year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}

	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"enrollment_date": "e.enrollment_date",
		"student_name":    "s.full_name",
		"course_name":     "c.name",
		"status":          "e.status",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrollment_date"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrollment_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.status, e.enrollment_date, e.current_semester, e.semester, e.year, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS course_name, c.duration_semesters AS course_semesters
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// CreateOpen persists a new enrollment whose status counts against the
// one-open-enrollment rule. The conflict check and the insert run inside a
// transaction holding a per-student advisory lock, so concurrent requests
// for the same student serialise instead of racing the check-then-write.
func (r *EnrollmentRepository) CreateOpen(ctx context.Context, enrollment *models.Enrollment) error {
	if !enrollment.Status.Open() {
		return fmt.Errorf("create enrollment: status %s is not an open status", enrollment.Status)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create enrollment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.lockStudent(ctx, tx, enrollment.StudentID); err != nil {
		return err
	}
	if err := r.checkNoOpenEnrollment(ctx, tx, enrollment.StudentID, 0); err != nil {
		return err
	}

	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now

	const insertQuery = `INSERT INTO enrollments (student_id, course_id, status, enrollment_date, current_semester, semester, year, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	if err := tx.QueryRowxContext(ctx, insertQuery,
		enrollment.StudentID,
		enrollment.CourseID,
		enrollment.Status,
		enrollment.EnrollmentDate,
		enrollment.CurrentSemester,
		enrollment.Semester,
		enrollment.Year,
		enrollment.CreatedAt,
		enrollment.UpdatedAt,
	).Scan(&enrollment.ID); err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create enrollment: %w", err)
	}
	return nil
}

// TransitionStatus moves an enrollment from one status to another with a
// compare-and-set write. When the target status is open, the uniqueness
// check re-runs under the student advisory lock before the update commits.
func (r *EnrollmentRepository) TransitionStatus(ctx context.Context, id, studentID int64, from, to models.EnrollmentStatus, currentSemester *int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if to.Open() {
		if err := r.lockStudent(ctx, tx, studentID); err != nil {
			return err
		}
		if err := r.checkNoOpenEnrollment(ctx, tx, studentID, id); err != nil {
			return err
		}
	}

	const updateQuery = `UPDATE enrollments
        SET status = $3, current_semester = COALESCE($4, current_semester), updated_at = $5
        WHERE id = $1 AND status = $2 AND deleted_at IS NULL`
	result, err := tx.ExecContext(ctx, updateQuery, id, from, to, currentSemester, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// CarryToPeriod finalizes a reenrollment carry-over: the compare-and-set
// status write also moves the enrollment's semester and year to the new
// period, so later period-scoped operations read the contract they should.
func (r *EnrollmentRepository) CarryToPeriod(ctx context.Context, id, studentID int64, from, to models.EnrollmentStatus, semester, year int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin period carry: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if to.Open() {
		if err := r.lockStudent(ctx, tx, studentID); err != nil {
			return err
		}
		if err := r.checkNoOpenEnrollment(ctx, tx, studentID, id); err != nil {
			return err
		}
	}

	const updateQuery = `UPDATE enrollments
        SET status = $3, semester = $4, year = $5, updated_at = $6
        WHERE id = $1 AND status = $2 AND deleted_at IS NULL`
	result, err := tx.ExecContext(ctx, updateQuery, id, from, to, semester, year, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment period: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("period carry rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit period carry: %w", err)
	}
	return nil
}

// SoftDelete marks the enrollment as logically removed, keeping it for audit.
func (r *EnrollmentRepository) SoftDelete(ctx context.Context, id int64) error {
	const query = `UPDATE enrollments SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("soft delete enrollment: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListEligibleForReenrollment returns the active enrollments missing a
// contract for the target period. The filter is the explicit eligibility
// policy for the global reenrollment batch.
func (r *EnrollmentRepository) ListEligibleForReenrollment(ctx context.Context, semester, year int) ([]models.Enrollment, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.enrollment_date, e.current_semester, e.semester, e.year, e.created_at, e.updated_at
        FROM enrollments e
        WHERE e.status = 'ACTIVE' AND e.deleted_at IS NULL
          AND NOT EXISTS (SELECT 1 FROM contracts c WHERE c.enrollment_id = e.id AND c.semester = $1 AND c.year = $2)
        ORDER BY e.id`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, semester, year); err != nil {
		return nil, fmt.Errorf("list reenrollment candidates: %w", err)
	}
	return enrollments, nil
}

// CountByStatus aggregates non-deleted enrollments per status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context) (map[models.EnrollmentStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS total FROM enrollments WHERE deleted_at IS NULL GROUP BY status`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count enrollments by status: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[models.EnrollmentStatus]int)
	for rows.Next() {
		var status models.EnrollmentStatus
		var total int
		if err := rows.Scan(&status, &total); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (r *EnrollmentRepository) lockStudent(ctx context.Context, tx *sqlx.Tx, studentID int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, enrollmentLockClass, studentID); err != nil {
		return fmt.Errorf("acquire student lock: %w", err)
	}
	return nil
}

func (r *EnrollmentRepository) checkNoOpenEnrollment(ctx context.Context, tx *sqlx.Tx, studentID, excludeID int64) error {
	query := `SELECT id, status FROM enrollments WHERE student_id = $1 AND deleted_at IS NULL AND status IN ` + openStatusSet
	args := []interface{}{studentID}
	if excludeID != 0 {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"

	var conflict struct {
		ID     int64                   `db:"id"`
		Status models.EnrollmentStatus `db:"status"`
	}
	if err := tx.GetContext(ctx, &conflict, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("check open enrollment: %w", err)
	}
	return &OpenConflictError{EnrollmentID: conflict.ID, Status: conflict.Status}
}
