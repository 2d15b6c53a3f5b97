package models

import "time"

// Contract is the legal document gating activation of an enrollment
// for one semester/year period.
type Contract struct {
	ID           int64      `db:"id" json:"id"`
	EnrollmentID int64      `db:"enrollment_id" json:"enrollment_id"`
	Semester     int        `db:"semester" json:"semester"`
	Year         int        `db:"year" json:"year"`
	DocumentPath string     `db:"document_path" json:"-"`
	AcceptedAt   *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
