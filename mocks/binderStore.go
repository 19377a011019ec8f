package mocks

import (
	"context"

	"github.com/kychandar/evwire/services"
	"github.com/stretchr/testify/mock"
)

// MockBinderStore is a mock implementation of services.BinderStore and
// services.DurableStore.
type MockBinderStore struct {
	mock.Mock
}

var (
	_ services.BinderStore  = (*MockBinderStore)(nil)
	_ services.DurableStore = (*MockBinderStore)(nil)
)

func (m *MockBinderStore) CreateBinder(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockBinderStore) ListBinders(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if names := args.Get(0); names != nil {
		return names.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBinderStore) Put(ctx context.Context, binder, docID string, doc []byte) error {
	return m.Called(ctx, binder, docID, doc).Error(0)
}

func (m *MockBinderStore) Get(ctx context.Context, binder, docID string) ([]byte, error) {
	args := m.Called(ctx, binder, docID)
	if doc := args.Get(0); doc != nil {
		return doc.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBinderStore) Scan(ctx context.Context, binder string) ([]services.Document, error) {
	args := m.Called(ctx, binder)
	if docs := args.Get(0); docs != nil {
		return docs.([]services.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBinderStore) Close() {
	m.Called()
}

func (m *MockBinderStore) SavePosition(ctx context.Context, channel, durableID string, pos int64) error {
	return m.Called(ctx, channel, durableID, pos).Error(0)
}

func (m *MockBinderStore) LoadPosition(ctx context.Context, channel, durableID string) (int64, bool, error) {
	args := m.Called(ctx, channel, durableID)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockBinderStore) DeletePosition(ctx context.Context, channel, durableID string) error {
	return m.Called(ctx, channel, durableID).Error(0)
}
