package mocks

import (
	"context"

	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/services"
	"github.com/stretchr/testify/mock"
)

// MockFrameWriter is a mock implementation of services.FrameWriter.
type MockFrameWriter struct {
	mock.Mock
}

var _ services.FrameWriter = (*MockFrameWriter)(nil)

func (m *MockFrameWriter) Write(ctx context.Context, msg common.OutboundMsg) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockFrameWriter) Close() error {
	return m.Called().Error(0)
}

// MockAuthenticator is a mock implementation of services.Authenticator.
type MockAuthenticator struct {
	mock.Mock
}

var _ services.Authenticator = (*MockAuthenticator)(nil)

func (m *MockAuthenticator) Authenticate(ctx context.Context, authInfo []byte) error {
	return m.Called(ctx, authInfo).Error(0)
}
