package models

import "time"

// DocumentStatus tracks approval of an uploaded student document.
type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "PENDING"
	DocumentStatusApproved DocumentStatus = "APPROVED"
	DocumentStatusRejected DocumentStatus = "REJECTED"
)

// Document is an institution-required upload reviewed by the secretariat.
// All mandatory documents must be APPROVED before an enrollment activates.
type Document struct {
	ID        int64          `db:"id" json:"id"`
	StudentID int64          `db:"student_id" json:"student_id"`
	Type      string         `db:"type" json:"type"`
	Mandatory bool           `db:"mandatory" json:"mandatory"`
	Status    DocumentStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	DeletedAt *time.Time     `db:"deleted_at" json:"-"`
}
