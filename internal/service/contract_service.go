package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academico-api/internal/models"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
	"github.com/noah-isme/academico-api/pkg/export"
)

type contractStore interface {
	FindByID(ctx context.Context, id int64) (*models.Contract, error)
	FindByEnrollmentAndPeriod(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error)
	HasAccepted(ctx context.Context, enrollmentID int64, semester, year int) (bool, error)
	Create(ctx context.Context, contract *models.Contract) error
	Accept(ctx context.Context, id int64, acceptedAt time.Time) error
}

type enrollmentDetailReader interface {
	FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error)
}

type contractRenderer interface {
	Render(data export.ContractData) ([]byte, error)
}

type contractStorage interface {
	Save(filename string, data []byte) (string, error)
	Delete(filename string) error
	Path(filename string) string
}

type downloadSigner interface {
	Generate(contractID, relPath string) (string, time.Time, error)
	Parse(token string) (contractID, relPath string, expiresAt time.Time, err error)
}

// ContractService issues, accepts and serves enrollment contracts.
type ContractService struct {
	contracts   contractStore
	enrollments enrollmentDetailReader
	renderer    contractRenderer
	storage     contractStorage
	signer      downloadSigner
	institution string
	logger      *zap.Logger
}

// NewContractService creates a ContractService.
func NewContractService(contracts contractStore, enrollments enrollmentDetailReader, renderer contractRenderer, storage contractStorage, signer downloadSigner, institution string, logger *zap.Logger) *ContractService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractService{
		contracts:   contracts,
		enrollments: enrollments,
		renderer:    renderer,
		storage:     storage,
		signer:      signer,
		institution: institution,
		logger:      logger,
	}
}

// Issue renders and persists the contract for one enrollment period. When a
// contract for the period already exists it is returned unchanged.
func (s *ContractService) Issue(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error) {
	existing, err := s.contracts.FindByEnrollmentAndPeriod(ctx, enrollmentID, semester, year)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up contract")
	}

	detail, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	document, err := s.renderer.Render(export.ContractData{
		Institution:  s.institution,
		StudentName:  detail.StudentName,
		CourseName:   detail.CourseName,
		EnrollmentID: detail.ID,
		Semester:     semester,
		Year:         year,
		IssuedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render contract document")
	}

	filename := fmt.Sprintf("enrollment-%d/contract-%d-%d.pdf", detail.ID, year, semester)
	path, err := s.storage.Save(filename, document)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store contract document")
	}

	contract := &models.Contract{
		EnrollmentID: detail.ID,
		Semester:     semester,
		Year:         year,
		DocumentPath: path,
	}
	if err := s.contracts.Create(ctx, contract); err != nil {
		if delErr := s.storage.Delete(path); delErr != nil {
			s.logger.Warn("failed to remove orphaned contract file",
				zap.String("path", path),
				zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist contract")
	}

	s.logger.Info("contract issued",
		zap.Int64("enrollment_id", detail.ID),
		zap.Int("semester", semester),
		zap.Int("year", year))
	return contract, nil
}

// Accept stamps the acceptance timestamp on the contract of the period. A
// contract that is already accepted is returned unchanged.
func (s *ContractService) Accept(ctx context.Context, enrollmentID int64, semester, year int) (*models.Contract, error) {
	contract, err := s.contracts.FindByEnrollmentAndPeriod(ctx, enrollmentID, semester, year)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("no contract issued for period %d/%d", semester, year))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up contract")
	}
	accepted, err := s.contracts.HasAccepted(ctx, enrollmentID, semester, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check contract acceptance")
	}
	if accepted {
		return contract, nil
	}

	now := time.Now().UTC()
	if err := s.contracts.Accept(ctx, contract.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// lost a race to another acceptance, which is fine
			return s.contracts.FindByID(ctx, contract.ID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept contract")
	}
	contract.AcceptedAt = &now
	return contract, nil
}

// DownloadToken returns a signed, time-limited token for the contract file.
func (s *ContractService) DownloadToken(ctx context.Context, contractID int64) (string, time.Time, error) {
	contract, err := s.contracts.FindByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "contract not found")
		}
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load contract")
	}

	token, expiresAt, err := s.signer.Generate(strconv.FormatInt(contract.ID, 10), contract.DocumentPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// ResolveDownload validates a signed token and returns the file path to serve.
func (s *ContractService) ResolveDownload(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	return s.storage.Path(relPath), nil
}
