package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kychandar/evwire/ds"
	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/services"
	"github.com/kychandar/evwire/session"
)

type subscription struct {
	id        int64
	channel   string
	durableID string
	matcher   *matcher
	window    *session.Window
	// ready is closed once SUBRESPONSE is queued; no RECEV may precede it
	ready   chan struct{}
	logSub  services.Subscription
	stopped atomic.Bool
}

// stop ends delivery without telling the client.
func (sub *subscription) stop() {
	if sub.stopped.Swap(true) {
		return
	}
	sub.window.Close()
	if sub.logSub != nil {
		_ = sub.logSub.Unsubscribe()
	}
}

func (s *Session) HandleSubscribe(ctx context.Context, f protocol.Subscribe) error {
	fail := func(err error) error {
		return s.send(ctx, protocol.SubResponse{
			RequestID: f.RequestID,
			ErrCode:   errCode(err),
			ErrMsg:    err.Error(),
		})
	}

	if err := s.tracker.RequireConnected(); err != nil {
		return fail(err)
	}
	if f.Channel == "" {
		return fail(fmt.Errorf("%w: channel is required", ErrInvalidRequest))
	}
	if f.StartPos != nil && f.StartTimestamp != nil {
		return fail(fmt.Errorf("%w: startPos and startTimestamp are exclusive", ErrInvalidRequest))
	}
	m, err := compileMatcher(f.Matcher)
	if err != nil {
		return fail(err)
	}
	from, err := s.startPoint(ctx, f)
	if err != nil {
		return fail(err)
	}

	sub := &subscription{
		id:        s.broker.nextSubID.Add(1),
		channel:   f.Channel,
		durableID: f.DurableID,
		matcher:   m,
		window:    session.NewWindow(s.broker.subscriptionCredit),
		ready:     make(chan struct{}),
	}
	if err := s.tracker.AddSubscription(sub.id); err != nil {
		return fail(err)
	}

	logSub, err := s.broker.log.Subscribe(s.ctx, f.Channel, from, func(ev ds.Event) error {
		return s.deliver(sub, ev)
	})
	if err != nil {
		_ = s.tracker.RemoveSubscription(sub.id)
		return fail(err)
	}
	sub.logSub = logSub
	s.subs.Set(sub.id, sub)
	s.broker.metrics.IncSubscriptions()

	s.wg.Add(1)
	go s.watch(sub)

	err = s.send(ctx, protocol.SubResponse{RequestID: f.RequestID, OK: true, SubID: sub.id})
	close(sub.ready)
	return err
}

// startPoint resolves where delivery begins. An explicit start wins; a
// durable subscription otherwise resumes after its last acknowledged position.
func (s *Session) startPoint(ctx context.Context, f protocol.Subscribe) (ds.StartFrom, error) {
	switch {
	case f.StartPos != nil:
		return ds.FromPosition(*f.StartPos), nil
	case f.StartTimestamp != nil:
		return ds.FromTime(time.UnixMilli(*f.StartTimestamp)), nil
	case f.DurableID != "":
		pos, found, err := s.broker.durables.LoadPosition(ctx, f.Channel, f.DurableID)
		if err != nil {
			return ds.StartFrom{}, fmt.Errorf("load durable position: %w", err)
		}
		if found {
			return ds.FromPosition(pos + 1), nil
		}
	}
	return ds.StartFrom{}, nil
}

// deliver runs on the channel log's goroutine for sub. It blocks while the
// subscription is out of credit.
func (s *Session) deliver(sub *subscription, ev ds.Event) error {
	select {
	case <-sub.ready:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	ok, err := sub.matcher.Match(ev.Payload)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	recev := protocol.Recev{
		SubID:     sub.id,
		Timestamp: ev.Timestamp.UnixMilli(),
		Pos:       ev.Pos,
		Event:     ev.Payload,
	}
	_, err = s.sendSized(s.ctx, recev, func(size int64) error {
		if sub.window.TryAcquire(size) {
			return nil
		}
		s.broker.metrics.ObserveCreditStall("subscription")
		return sub.window.Acquire(s.ctx, size)
	})
	return err
}

// watch reports a subscription that ended on the log side to the client.
func (s *Session) watch(sub *subscription) {
	defer s.wg.Done()
	defer s.broker.metrics.DecSubscriptions()

	<-sub.logSub.Done()
	if sub.stopped.Load() || s.ctx.Err() != nil {
		return
	}
	err := sub.logSub.Err()
	if err == nil {
		err = services.ErrSubscriptionEnd
	}
	sub.stop()
	if s.tracker.RemoveSubscription(sub.id) != nil {
		return
	}
	s.subs.Del(sub.id)

	s.logger.WarnContext(s.ctx, "subscription closed by broker", "sub_id", sub.id, "channel", sub.channel, "error", err)
	if serr := s.send(s.ctx, protocol.SubClose{
		SubID:   sub.id,
		ErrCode: protocol.ErrCodeInternal,
		ErrMsg:  err.Error(),
	}); serr != nil {
		s.logger.WarnContext(s.ctx, "sending SUBCLOSE", "sub_id", sub.id, "error", serr)
	}
}

func (s *Session) HandleAckEv(ctx context.Context, f protocol.AckEv) error {
	sub, ok := s.subs.Get(f.SubID)
	if !ok || s.tracker.CheckSubscription(f.SubID) != nil {
		// acks may trail an unsubscribe
		s.logger.DebugContext(ctx, "ack for unknown subscription", "sub_id", f.SubID)
		return nil
	}
	sub.window.Release(f.Bytes)
	if sub.durableID != "" {
		if err := s.broker.durables.SavePosition(ctx, sub.channel, sub.durableID, f.Pos); err != nil {
			s.logger.WarnContext(ctx, "saving durable position", "sub_id", f.SubID, "error", err)
		}
	}
	return nil
}

func (s *Session) HandleUnsubscribe(ctx context.Context, f protocol.Unsubscribe) error {
	sub, err := s.closeSubscription(f.SubID)
	if err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	if sub.durableID != "" {
		if err := s.broker.durables.DeletePosition(ctx, sub.channel, sub.durableID); err != nil {
			return s.respond(ctx, f.RequestID, err, nil)
		}
	}
	return s.respond(ctx, f.RequestID, nil, nil)
}

// HandleSubClose closes a subscription at the client's request. The durable
// position, if any, is kept so a later SUBSCRIBE resumes from it.
func (s *Session) HandleSubClose(ctx context.Context, f protocol.SubClose) error {
	if _, err := s.closeSubscription(f.SubID); err != nil {
		s.logger.DebugContext(ctx, "close of unknown subscription", "sub_id", f.SubID)
	}
	return nil
}

func (s *Session) closeSubscription(subID int64) (*subscription, error) {
	if err := s.tracker.RemoveSubscription(subID); err != nil {
		return nil, err
	}
	sub, ok := s.subs.Get(subID)
	if !ok {
		return nil, session.ErrUnknownSubscription
	}
	s.subs.Del(subID)
	sub.stop()
	return sub, nil
}
