package registrar_test

import (
	"context"
	"time"

	registrar "github.com/goliatone/go-registrar"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockAccounts implements registrar.Accounts
type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) Create(ctx context.Context, record *registrar.Account) (*registrar.Account, error) {
	args := m.Called(ctx, record)
	if acc, ok := args.Get(0).(*registrar.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) GetByID(ctx context.Context, id uuid.UUID) (*registrar.Account, error) {
	args := m.Called(ctx, id)
	if acc, ok := args.Get(0).(*registrar.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) GetByEmail(ctx context.Context, email string) (*registrar.Account, error) {
	args := m.Called(ctx, email)
	if acc, ok := args.Get(0).(*registrar.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, from, to registrar.AccountStatus, opts ...registrar.StatusUpdateOption) (bool, error) {
	args := m.Called(ctx, id, from, to, opts)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccounts) UpdateCredential(ctx context.Context, id uuid.UUID, credentialHash string, at time.Time) error {
	args := m.Called(ctx, id, credentialHash, at)
	return args.Error(0)
}

func (m *MockAccounts) ListByStatus(ctx context.Context, status registrar.AccountStatus) ([]*registrar.Account, error) {
	args := m.Called(ctx, status)
	if list, ok := args.Get(0).([]*registrar.Account); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// failingCredentials wraps a real store and fails credential writes.
type failingCredentials struct {
	registrar.Accounts
	err error
}

func (f *failingCredentials) UpdateCredential(context.Context, uuid.UUID, string, time.Time) error {
	return f.err
}
