package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orbit-hq/orbit/internal/shared"
)

type memUserRepo struct {
	users map[string]*User
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, ok := r.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

func seedUser(t *testing.T, email, password string, active bool) *memUserRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &memUserRepo{users: map[string]*User{
		email: {ID: 1, CompanyID: 7, Email: email, Name: "Test User", PasswordHash: string(hash), IsActive: active},
	}}
}

func TestAuthenticateSuccess(t *testing.T) {
	svc := NewService(seedUser(t, "user@acme.local", "secret123", true))

	user, err := svc.Authenticate(context.Background(), "user@acme.local", "secret123")
	require.NoError(t, err)
	require.EqualValues(t, 1, user.ID)
	require.EqualValues(t, 7, user.CompanyID)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := NewService(seedUser(t, "user@acme.local", "secret123", true))

	_, err := svc.Authenticate(context.Background(), "user@acme.local", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	svc := NewService(seedUser(t, "user@acme.local", "secret123", true))

	_, err := svc.Authenticate(context.Background(), "nobody@acme.local", "secret123")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	svc := NewService(seedUser(t, "user@acme.local", "secret123", false))

	_, err := svc.Authenticate(context.Background(), "user@acme.local", "secret123")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}
