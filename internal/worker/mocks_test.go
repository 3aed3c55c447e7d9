package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Mocks

type MockExecutor struct{ mock.Mock }

func (m *MockExecutor) ExecuteRun(ctx context.Context, runID, dir string) error {
	args := m.Called(ctx, runID, dir)
	return args.Error(0)
}
