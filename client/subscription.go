package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kychandar/evwire/protocol"
	"go.mongodb.org/mongo-driver/bson"
)

// deliveryBuffer is how many received events may wait for the handler before
// the read loop blocks.
const deliveryBuffer = 64

// Delivery is one event received on a subscription.
type Delivery struct {
	SubID     int64
	Pos       int64
	Timestamp time.Time
	Event     bson.Raw
}

// Handler processes one delivery. The event is acknowledged when it returns
// nil; an error closes the subscription.
type Handler func(Delivery) error

type SubscribeOptions struct {
	Channel string
	// StartPos delivers from this position on, inclusive.
	StartPos *int64
	// StartTime delivers events stored at or after this time.
	StartTime *time.Time
	// DurableID names a subscription whose acknowledged position the broker
	// keeps across connections.
	DurableID string
	// Matcher filters events broker side.
	Matcher string
}

type pendingDelivery struct {
	Delivery
	size int
}

type Subscription struct {
	c          *Client
	handler    Handler
	deliveries chan pendingDelivery

	mu    sync.Mutex
	id    int64
	ended bool
	err   error
	done  chan struct{}
}

func (sub *Subscription) ID() int64 {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.id
}

// Done is closed when the subscription has ended.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Err is why the subscription ended; nil after Unsubscribe or Close.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

// end stops delivery. It reports whether this call ended it.
func (sub *Subscription) end(err error) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.ended {
		return false
	}
	sub.ended = true
	sub.err = err
	close(sub.done)
	return true
}

// Subscribe starts delivery of channel's events to handler. Handler calls are
// sequential and in position order.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOptions, handler Handler) (*Subscription, error) {
	sub := &Subscription{
		c:          c,
		handler:    handler,
		deliveries: make(chan pendingDelivery, deliveryBuffer),
		done:       make(chan struct{}),
	}
	f := protocol.Subscribe{
		Channel:   opts.Channel,
		StartPos:  opts.StartPos,
		DurableID: opts.DurableID,
		Matcher:   opts.Matcher,
	}
	if opts.StartTime != nil {
		ms := opts.StartTime.UnixMilli()
		f.StartTimestamp = &ms
	}

	rID, ch, err := c.corr.Register()
	if err != nil {
		return nil, err
	}
	f.RequestID = rID
	c.pendingSubs.Set(rID, sub)
	if err := c.send(f); err != nil {
		c.pendingSubs.Del(rID)
		c.corr.Forget(rID)
		return nil, err
	}

	reply, err := c.corr.Wait(ctx, rID, ch)
	if err != nil {
		c.pendingSubs.Del(rID)
		c.abandon(sub, err)
		return nil, err
	}
	resp, ok := reply.(protocol.SubResponse)
	if !ok {
		return nil, fmt.Errorf("client: unexpected %s reply", reply.FrameType())
	}
	if !resp.OK {
		return nil, &ResponseError{Code: resp.ErrCode, Msg: resp.ErrMsg}
	}
	return sub, nil
}

// abandon ends a subscription whose caller gave up waiting for it. If the
// broker already opened it, it is closed there too.
func (c *Client) abandon(sub *Subscription, err error) {
	sub.mu.Lock()
	id := sub.id
	sub.mu.Unlock()
	sub.end(err)
	if id != 0 {
		c.subs.Del(id)
		_ = c.send(protocol.SubClose{SubID: id})
	}
}

func (c *Client) HandleSubResponse(ctx context.Context, f protocol.SubResponse) error {
	sub, ok := c.pendingSubs.Get(f.RequestID)
	if ok {
		c.pendingSubs.Del(f.RequestID)
	}
	if ok && f.OK {
		sub.mu.Lock()
		if sub.ended {
			sub.mu.Unlock()
			c.logger.DebugContext(ctx, "closing abandoned subscription", "sub_id", f.SubID)
			if err := c.send(protocol.SubClose{SubID: f.SubID}); err != nil {
				return err
			}
		} else {
			sub.id = f.SubID
			// registered before the reply is released so no RECEV is missed
			c.subs.Set(f.SubID, sub)
			sub.mu.Unlock()
			go sub.run()
		}
	}
	return c.corr.Resolve(f.RequestID, f)
}

func (c *Client) HandleRecev(ctx context.Context, size int, f protocol.Recev) error {
	sub, ok := c.subs.Get(f.SubID)
	if !ok {
		// events may trail an unsubscribe
		c.logger.DebugContext(ctx, "event for closed subscription", "sub_id", f.SubID, "pos", f.Pos)
		return nil
	}
	d := pendingDelivery{
		Delivery: Delivery{
			SubID:     f.SubID,
			Pos:       f.Pos,
			Timestamp: time.UnixMilli(f.Timestamp),
			Event:     f.Event,
		},
		size: size,
	}
	select {
	case sub.deliveries <- d:
	case <-sub.done:
	case <-c.done:
	}
	return nil
}

func (c *Client) HandleSubClose(ctx context.Context, f protocol.SubClose) error {
	sub, ok := c.subs.Get(f.SubID)
	if !ok {
		c.logger.DebugContext(ctx, "close of unknown subscription", "sub_id", f.SubID)
		return nil
	}
	c.subs.Del(f.SubID)
	c.logger.WarnContext(ctx, "subscription closed by broker", "sub_id", f.SubID, "err_code", f.ErrCode.String(), "msg", f.ErrMsg)
	sub.end(&ResponseError{Code: f.ErrCode, Msg: f.ErrMsg})
	return nil
}

func (sub *Subscription) run() {
	for {
		select {
		case d := <-sub.deliveries:
			if err := sub.handler(d.Delivery); err != nil {
				sub.c.logger.Warn("subscription handler failed", "sub_id", d.SubID, "pos", d.Pos, "error", err)
				if sub.end(err) {
					sub.c.subs.Del(d.SubID)
					_ = sub.c.send(protocol.SubClose{SubID: d.SubID})
				}
				return
			}
			if err := sub.c.send(protocol.AckEv{SubID: d.SubID, Bytes: int64(d.size), Pos: d.Pos}); err != nil {
				sub.end(err)
				return
			}
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe stops delivery and asks the broker to forget the subscription,
// including any durable position.
func (sub *Subscription) Unsubscribe(ctx context.Context) error {
	id := sub.ID()
	if !sub.end(nil) {
		return sub.Err()
	}
	sub.c.subs.Del(id)
	_, err := sub.c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.Unsubscribe{RequestID: rID, SubID: id}
	})
	return err
}

// Close stops delivery. A durable subscription keeps its position and can be
// resumed by subscribing again with the same DurableID.
func (sub *Subscription) Close() error {
	id := sub.ID()
	if !sub.end(nil) {
		return nil
	}
	sub.c.subs.Del(id)
	return sub.c.send(protocol.SubClose{SubID: id})
}
