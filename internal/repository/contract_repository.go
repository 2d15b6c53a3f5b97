package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academico-api/internal/models"
)

// ContractRepository handles persistence of enrollment contracts.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository constructs the repository.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// FindByID returns a contract by its ID.
func (r *ContractRepository) FindByID(ctx context.Context, id int64) (*models.Contract, error) {
	const query = `SELECT id, enrollment_id, semester, year, document_path, accepted_at, created_at FROM contracts WHERE id = $1`
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, id); err != nil {
		return nil, err
	}
	return &contract, nil
}

// FindByEnrollmentAndPeriod returns the contract for one enrollment period.
func (r *ContractRepository) FindByEnrollmentAndPeriod(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error) {
	const query = `SELECT id, enrollment_id, semester, year, document_path, accepted_at, created_at
        FROM contracts WHERE enrollment_id = $1 AND semester = $2 AND year = $3 LIMIT 1`
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, enrollmentID, semester, year); err != nil {
		return nil, err
	}
	return &contract, nil
}

// HasAccepted reports whether an accepted contract exists for the period.
func (r *ContractRepository) HasAccepted(ctx context.Context, enrollmentID int64, semester, year int) (bool, error) {
	const query = `SELECT 1 FROM contracts WHERE enrollment_id = $1 AND semester = $2 AND year = $3 AND accepted_at IS NOT NULL LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, enrollmentID, semester, year); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check accepted contract: %w", err)
	}
	return true, nil
}

// Create persists a new contract record.
func (r *ContractRepository) Create(ctx context.Context, contract *models.Contract) error {
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO contracts (enrollment_id, semester, year, document_path, created_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		contract.EnrollmentID,
		contract.Semester,
		contract.Year,
		contract.DocumentPath,
		contract.CreatedAt,
	).Scan(&contract.ID); err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

// Accept stamps the acceptance timestamp. Returns sql.ErrNoRows when the
// contract is missing or already accepted.
func (r *ContractRepository) Accept(ctx context.Context, id int64, acceptedAt time.Time) error {
	const query = `UPDATE contracts SET accepted_at = $2 WHERE id = $1 AND accepted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, acceptedAt)
	if err != nil {
		return fmt.Errorf("accept contract: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
