package protocol

import "context"

// FrameHandler is implemented by the session layer. Dispatcher invokes exactly
// one method per decoded frame, in arrival order. size is the wire body length
// of the frame, used for flow-control accounting.
type FrameHandler interface {
	HandleConnect(ctx context.Context, f Connect) error
	HandleResponse(ctx context.Context, f Response) error
	HandlePublish(ctx context.Context, f Publish) error
	HandleStartTx(ctx context.Context, f StartTx) error
	HandleCommitTx(ctx context.Context, f CommitTx) error
	HandleAbortTx(ctx context.Context, f AbortTx) error
	HandleSubscribe(ctx context.Context, f Subscribe) error
	HandleSubResponse(ctx context.Context, f SubResponse) error
	HandleUnsubscribe(ctx context.Context, f Unsubscribe) error
	HandleSubClose(ctx context.Context, f SubClose) error
	HandleRecev(ctx context.Context, size int, f Recev) error
	HandleAckEv(ctx context.Context, f AckEv) error
	HandleFindByID(ctx context.Context, f FindByID) error
	HandleQuery(ctx context.Context, f Query) error
	HandleQueryResult(ctx context.Context, size int, f QueryResult) error
	HandleQueryAck(ctx context.Context, f QueryAck) error
	HandlePing(ctx context.Context, f Ping) error
	HandleListBinders(ctx context.Context, f ListBinders) error
	HandleCreateBinder(ctx context.Context, f CreateBinder) error
	HandleListChannels(ctx context.Context, f ListChannels) error
	HandleCreateChannel(ctx context.Context, f CreateChannel) error
	HandleCommand(ctx context.Context, f Command) error
}

// UnimplementedHandler rejects every frame with *UnexpectedFrameError. Embed it
// in a handler that serves only one direction of the protocol.
type UnimplementedHandler struct{}

var _ FrameHandler = UnimplementedHandler{}

func unexpected(t FrameType) error {
	return &UnexpectedFrameError{Type: t}
}

func (UnimplementedHandler) HandleConnect(context.Context, Connect) error {
	return unexpected(FrameConnect)
}

func (UnimplementedHandler) HandleResponse(context.Context, Response) error {
	return unexpected(FrameResponse)
}

func (UnimplementedHandler) HandlePublish(context.Context, Publish) error {
	return unexpected(FramePublish)
}

func (UnimplementedHandler) HandleStartTx(context.Context, StartTx) error {
	return unexpected(FrameStartTx)
}

func (UnimplementedHandler) HandleCommitTx(context.Context, CommitTx) error {
	return unexpected(FrameCommitTx)
}

func (UnimplementedHandler) HandleAbortTx(context.Context, AbortTx) error {
	return unexpected(FrameAbortTx)
}

func (UnimplementedHandler) HandleSubscribe(context.Context, Subscribe) error {
	return unexpected(FrameSubscribe)
}

func (UnimplementedHandler) HandleSubResponse(context.Context, SubResponse) error {
	return unexpected(FrameSubResponse)
}

func (UnimplementedHandler) HandleUnsubscribe(context.Context, Unsubscribe) error {
	return unexpected(FrameUnsubscribe)
}

func (UnimplementedHandler) HandleSubClose(context.Context, SubClose) error {
	return unexpected(FrameSubClose)
}

func (UnimplementedHandler) HandleRecev(context.Context, int, Recev) error {
	return unexpected(FrameRecev)
}

func (UnimplementedHandler) HandleAckEv(context.Context, AckEv) error {
	return unexpected(FrameAckEv)
}

func (UnimplementedHandler) HandleFindByID(context.Context, FindByID) error {
	return unexpected(FrameFindByID)
}

func (UnimplementedHandler) HandleQuery(context.Context, Query) error {
	return unexpected(FrameQuery)
}

func (UnimplementedHandler) HandleQueryResult(context.Context, int, QueryResult) error {
	return unexpected(FrameQueryResult)
}

func (UnimplementedHandler) HandleQueryAck(context.Context, QueryAck) error {
	return unexpected(FrameQueryAck)
}

func (UnimplementedHandler) HandlePing(context.Context, Ping) error {
	return unexpected(FramePing)
}

func (UnimplementedHandler) HandleListBinders(context.Context, ListBinders) error {
	return unexpected(FrameListBinders)
}

func (UnimplementedHandler) HandleCreateBinder(context.Context, CreateBinder) error {
	return unexpected(FrameCreateBinder)
}

func (UnimplementedHandler) HandleListChannels(context.Context, ListChannels) error {
	return unexpected(FrameListChannels)
}

func (UnimplementedHandler) HandleCreateChannel(context.Context, CreateChannel) error {
	return unexpected(FrameCreateChannel)
}

func (UnimplementedHandler) HandleCommand(context.Context, Command) error {
	return unexpected(FrameCommand)
}
