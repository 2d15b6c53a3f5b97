package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusContract     EnrollmentStatus = "CONTRACT"
	EnrollmentStatusPending      EnrollmentStatus = "PENDING"
	EnrollmentStatusActive       EnrollmentStatus = "ACTIVE"
	EnrollmentStatusReenrollment EnrollmentStatus = "REENROLLMENT"
	EnrollmentStatusCancelled    EnrollmentStatus = "CANCELLED"
	EnrollmentStatusCompleted    EnrollmentStatus = "COMPLETED"
)

// OpenStatuses is the subset of statuses a student may hold at most once.
func OpenStatuses() []EnrollmentStatus {
	return []EnrollmentStatus{
		EnrollmentStatusActive,
		EnrollmentStatusPending,
		EnrollmentStatusContract,
	}
}

// Open reports whether the status counts against the one-open-enrollment rule.
func (s EnrollmentStatus) Open() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusPending, EnrollmentStatusContract:
		return true
	}
	return false
}

// Terminal reports whether the status is a lifecycle sink.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCancelled || s == EnrollmentStatusCompleted
}

// Valid reports whether the status is a known enum value.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusContract, EnrollmentStatusPending, EnrollmentStatusActive,
		EnrollmentStatusReenrollment, EnrollmentStatusCancelled, EnrollmentStatusCompleted:
		return true
	}
	return false
}

// Enrollment captures a student's commitment to one course track.
// Status mutations go through the repository transition methods only.
type Enrollment struct {
	ID              int64            `db:"id" json:"id"`
	StudentID       int64            `db:"student_id" json:"student_id"`
	CourseID        int64            `db:"course_id" json:"course_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	EnrollmentDate  time.Time        `db:"enrollment_date" json:"enrollment_date"`
	CurrentSemester *int             `db:"current_semester" json:"current_semester,omitempty"`
	Semester        int              `db:"semester" json:"semester"`
	Year            int              `db:"year" json:"year"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time       `db:"deleted_at" json:"-"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName     string `db:"student_name" json:"student_name"`
	CourseName      string `db:"course_name" json:"course_name"`
	CourseSemesters int    `db:"course_semesters" json:"course_semesters"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID int64
	CourseID  int64
	Status    EnrollmentStatus
	Semester  int
	Year      int
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StatusSummary aggregates enrollment counts per status.
type StatusSummary struct {
	Counts      map[EnrollmentStatus]int `json:"counts"`
	Total       int                      `json:"total"`
	GeneratedAt time.Time                `json:"generated_at"`
}
