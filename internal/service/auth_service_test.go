package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/academico-api/internal/models"
	appErrors "github.com/noah-isme/academico-api/pkg/errors"
)

type mockUserRepo struct {
	users map[string]models.User
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, *mockUserRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &mockUserRepo{users: map[string]models.User{
		"admin-1": {
			ID:           "admin-1",
			FullName:     "Admin",
			Email:        "admin@academico.edu",
			PasswordHash: string(hash),
			Role:         models.RoleAdmin,
			Active:       true,
		},
	}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), "jwt-secret", time.Hour)
	return svc, repo
}

func TestLoginIssuesToken(t *testing.T) {
	svc, _ := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:    "admin@academico.edu",
		Password: "s3cret",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Positive(t, resp.ExpiresIn)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.UserID)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:    "admin@academico.edu",
		Password: "wrong",
	})

	assertErrorCode(t, err, appErrors.ErrInvalidCredentials.Code)
}

func TestVerifyPassword(t *testing.T) {
	svc, repo := newAuthFixture(t)

	require.NoError(t, svc.VerifyPassword(context.Background(), "admin-1", "s3cret"))

	err := svc.VerifyPassword(context.Background(), "admin-1", "wrong")
	assertErrorCode(t, err, appErrors.ErrUnauthorized.Code)

	user := repo.users["admin-1"]
	user.Active = false
	repo.users["admin-1"] = user
	err = svc.VerifyPassword(context.Background(), "admin-1", "s3cret")
	assertErrorCode(t, err, appErrors.ErrInactiveAccount.Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.ValidateToken("not-a-token")

	assertErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}
