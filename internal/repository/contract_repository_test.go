package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academico-api/internal/models"
)

func newContractRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestContractRepositoryHasAccepted(t *testing.T) {
	db, mock, cleanup := newContractRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)

	mock.ExpectQuery("SELECT 1 FROM contracts").
		WithArgs(int64(11), 2, 2025).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	accepted, err := repo.HasAccepted(context.Background(), 11, 2, 2025)
	require.NoError(t, err)
	require.True(t, accepted)

	mock.ExpectQuery("SELECT 1 FROM contracts").
		WithArgs(int64(11), 1, 2026).
		WillReturnError(sql.ErrNoRows)

	accepted, err = repo.HasAccepted(context.Background(), 11, 1, 2026)
	require.NoError(t, err)
	require.False(t, accepted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContractRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newContractRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)

	mock.ExpectQuery("INSERT INTO contracts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	contract := &models.Contract{EnrollmentID: 11, Semester: 2, Year: 2025, DocumentPath: "2025/2/contract-11.pdf"}
	err := repo.Create(context.Background(), contract)
	require.NoError(t, err)
	require.Equal(t, int64(9), contract.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContractRepositoryAcceptAlreadyAccepted(t *testing.T) {
	db, mock, cleanup := newContractRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)

	mock.ExpectExec("UPDATE contracts SET accepted_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Accept(context.Background(), 9, time.Now().UTC())
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
