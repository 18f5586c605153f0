package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// Save is the mock implementation of the Save method.
func (m *MockProvider) Save(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, objectName, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
