package protocol

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

type route func(ctx context.Context, h FrameHandler, size int, payload bson.Raw) error

func plain[T Frame](handle func(FrameHandler, context.Context, T) error) route {
	return func(ctx context.Context, h FrameHandler, _ int, payload bson.Raw) error {
		var f T
		if err := unmarshalPayload(payload, &f); err != nil {
			return err
		}
		return handle(h, ctx, f)
	}
}

func sized[T Frame](handle func(FrameHandler, context.Context, int, T) error) route {
	return func(ctx context.Context, h FrameHandler, size int, payload bson.Raw) error {
		var f T
		if err := unmarshalPayload(payload, &f); err != nil {
			return err
		}
		return handle(h, ctx, size, f)
	}
}

var routes = [frameTypeCount]route{
	FrameConnect:       plain(FrameHandler.HandleConnect),
	FrameResponse:      plain(FrameHandler.HandleResponse),
	FramePublish:       plain(FrameHandler.HandlePublish),
	FrameStartTx:       plain(FrameHandler.HandleStartTx),
	FrameCommitTx:      plain(FrameHandler.HandleCommitTx),
	FrameAbortTx:       plain(FrameHandler.HandleAbortTx),
	FrameSubscribe:     plain(FrameHandler.HandleSubscribe),
	FrameSubResponse:   plain(FrameHandler.HandleSubResponse),
	FrameUnsubscribe:   plain(FrameHandler.HandleUnsubscribe),
	FrameSubClose:      plain(FrameHandler.HandleSubClose),
	FrameRecev:         sized(FrameHandler.HandleRecev),
	FrameAckEv:         plain(FrameHandler.HandleAckEv),
	FrameFindByID:      plain(FrameHandler.HandleFindByID),
	FrameQuery:         plain(FrameHandler.HandleQuery),
	FrameQueryResult:   sized(FrameHandler.HandleQueryResult),
	FrameQueryAck:      plain(FrameHandler.HandleQueryAck),
	FramePing:          plain(FrameHandler.HandlePing),
	FrameListBinders:   plain(FrameHandler.HandleListBinders),
	FrameCreateBinder:  plain(FrameHandler.HandleCreateBinder),
	FrameListChannels:  plain(FrameHandler.HandleListChannels),
	FrameCreateChannel: plain(FrameHandler.HandleCreateChannel),
	FrameCommand:       plain(FrameHandler.HandleCommand),
}

func init() {
	for _, t := range FrameTypes() {
		if routes[t] == nil {
			panic(fmt.Sprintf("protocol: no route for %s frame", t))
		}
	}
}

// Dispatcher routes decoded envelopes to a FrameHandler.
type Dispatcher struct {
	handler FrameHandler
}

func NewDispatcher(handler FrameHandler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// Dispatch decodes the payload record for env.Type and invokes the matching
// handler method. Errors from the handler are returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	if !env.Type.Valid() {
		return &UnknownFrameTypeError{Tag: env.Type.String()}
	}
	return routes[env.Type](ctx, d.handler, env.Size, env.Frame)
}
