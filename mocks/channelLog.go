package mocks

import (
	"context"

	"github.com/kychandar/evwire/ds"
	"github.com/kychandar/evwire/services"
	"github.com/stretchr/testify/mock"
)

// MockChannelLog is a mock implementation of services.ChannelLog.
type MockChannelLog struct {
	mock.Mock
}

var _ services.ChannelLog = (*MockChannelLog)(nil)

func (m *MockChannelLog) CreateChannel(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockChannelLog) ListChannels(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if names := args.Get(0); names != nil {
		return names.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChannelLog) Append(ctx context.Context, channel string, events ...[]byte) ([]int64, error) {
	args := m.Called(ctx, channel, events)
	if pos := args.Get(0); pos != nil {
		return pos.([]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChannelLog) Subscribe(ctx context.Context, channel string, from ds.StartFrom, fn func(ds.Event) error) (services.Subscription, error) {
	args := m.Called(ctx, channel, from, fn)
	if sub := args.Get(0); sub != nil {
		return sub.(services.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChannelLog) Close() error {
	return m.Called().Error(0)
}
