package mocks

import (
	"context"

	"github.com/kychandar/evwire/protocol"
	"github.com/stretchr/testify/mock"
)

// MockFrameHandler is a mock implementation of protocol.FrameHandler.
type MockFrameHandler struct {
	mock.Mock
}

var _ protocol.FrameHandler = (*MockFrameHandler)(nil)

func (m *MockFrameHandler) HandleConnect(ctx context.Context, f protocol.Connect) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleResponse(ctx context.Context, f protocol.Response) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandlePublish(ctx context.Context, f protocol.Publish) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleStartTx(ctx context.Context, f protocol.StartTx) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleCommitTx(ctx context.Context, f protocol.CommitTx) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleAbortTx(ctx context.Context, f protocol.AbortTx) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleSubscribe(ctx context.Context, f protocol.Subscribe) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleSubResponse(ctx context.Context, f protocol.SubResponse) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleUnsubscribe(ctx context.Context, f protocol.Unsubscribe) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleSubClose(ctx context.Context, f protocol.SubClose) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleRecev(ctx context.Context, size int, f protocol.Recev) error {
	return m.Called(ctx, size, f).Error(0)
}

func (m *MockFrameHandler) HandleAckEv(ctx context.Context, f protocol.AckEv) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleFindByID(ctx context.Context, f protocol.FindByID) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleQuery(ctx context.Context, f protocol.Query) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleQueryResult(ctx context.Context, size int, f protocol.QueryResult) error {
	return m.Called(ctx, size, f).Error(0)
}

func (m *MockFrameHandler) HandleQueryAck(ctx context.Context, f protocol.QueryAck) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandlePing(ctx context.Context, f protocol.Ping) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleListBinders(ctx context.Context, f protocol.ListBinders) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleCreateBinder(ctx context.Context, f protocol.CreateBinder) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleListChannels(ctx context.Context, f protocol.ListChannels) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleCreateChannel(ctx context.Context, f protocol.CreateChannel) error {
	return m.Called(ctx, f).Error(0)
}

func (m *MockFrameHandler) HandleCommand(ctx context.Context, f protocol.Command) error {
	return m.Called(ctx, f).Error(0)
}
