package billing

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockBalanceService struct {
	mock.Mock
}

func (m *MockBalanceService) GetBalance(ctx context.Context, ownerID string) (int64, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBalanceService) Charge(ctx context.Context, ownerID string, credits int64, reason string) error {
	args := m.Called(ctx, ownerID, credits, reason)
	return args.Error(0)
}
