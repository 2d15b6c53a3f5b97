package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DocumentRepository answers document-approval questions for enrollments.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// AllMandatoryApproved reports whether every mandatory document of the
// student is approved. A student with no mandatory documents on file is not
// considered approved.
func (r *DocumentRepository) AllMandatoryApproved(ctx context.Context, studentID int64) (bool, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = 'APPROVED') AS approved,
        COUNT(*) AS total
        FROM documents WHERE student_id = $1 AND mandatory AND deleted_at IS NULL`
	var counts struct {
		Approved int `db:"approved"`
		Total    int `db:"total"`
	}
	if err := r.db.GetContext(ctx, &counts, query, studentID); err != nil {
		return false, fmt.Errorf("count mandatory documents: %w", err)
	}
	return counts.Total > 0 && counts.Approved == counts.Total, nil
}
