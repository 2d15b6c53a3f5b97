package models

import "time"

// Course describes a course track offered by the institution.
type Course struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	DurationSemesters int       `db:"duration_semesters" json:"duration_semesters"`
	Active            bool      `db:"active" json:"active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
