package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/services"
	"github.com/kychandar/evwire/session"
	"go.mongodb.org/mongo-driver/bson"
)

// Session serves one connection. Handle* methods are called from the
// connection's read loop, one frame at a time; deliveries and query results
// are produced on their own goroutines.
type Session struct {
	protocol.UnimplementedHandler

	id      string
	broker  *Broker
	writer  services.FrameWriter
	tracker *session.Tracker
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	// tx holds the events published in the open transaction, read-loop only
	tx []txEvent

	subs    *haxmap.Map[int64, *subscription]
	queries *haxmap.Map[int64, *runningQuery]

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type txEvent struct {
	channel string
	event   []byte
}

var _ protocol.FrameHandler = (*Session)(nil)

func (s *Session) ID() string {
	return s.id
}

// send encodes f and queues it on the connection writer.
func (s *Session) send(ctx context.Context, f protocol.Frame) error {
	_, err := s.sendSized(ctx, f, nil)
	return err
}

// sendSized is send with an optional gate called with the frame body size
// before the frame is queued.
func (s *Session) sendSized(ctx context.Context, f protocol.Frame, gate func(size int64) error) (int, error) {
	wire, err := protocol.EncodeFrame(f)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", f.FrameType(), err)
	}
	size := len(wire) - 4
	if gate != nil {
		if err := gate(int64(size)); err != nil {
			return size, err
		}
	}
	msg := common.OutboundMsg{
		Enqueued:  time.Now(),
		FrameType: f.FrameType().String(),
		Data:      wire,
	}
	if err := s.writer.Write(ctx, msg); err != nil {
		return size, err
	}
	return size, nil
}

// respond answers a request-bearing frame. A nil err is a success; fill may
// add result fields to it.
func (s *Session) respond(ctx context.Context, rID int64, err error, fill func(*protocol.Response)) error {
	resp := protocol.Response{RequestID: rID, OK: err == nil}
	if err != nil {
		resp.ErrCode = errCode(err)
		resp.ErrMsg = err.Error()
		if resp.ErrCode == protocol.ErrCodeInternal {
			s.logger.ErrorContext(ctx, "request failed", "rID", rID, "error", err)
		}
	} else if fill != nil {
		fill(&resp)
	}
	return s.send(ctx, resp)
}

func (s *Session) HandleConnect(ctx context.Context, f protocol.Connect) error {
	if s.tracker.Connected() {
		return s.respond(ctx, f.RequestID, session.ErrAlreadyConnected, nil)
	}
	if f.Version != "" && f.Version != s.broker.version {
		err := fmt.Errorf("%w: %q, want %q", ErrUnsupportedVersion, f.Version, s.broker.version)
		return s.respond(ctx, f.RequestID, err, nil)
	}
	if err := s.broker.auth.Authenticate(ctx, f.AuthInfo); err != nil {
		s.logger.WarnContext(ctx, "authentication failed", "error", err)
		if rerr := s.respond(ctx, f.RequestID, services.ErrAuthFailed, nil); rerr != nil {
			return rerr
		}
		return services.ErrAuthFailed
	}
	if err := s.tracker.Connect(); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	s.logger.InfoContext(ctx, "session connected", "version", f.Version)
	return s.respond(ctx, f.RequestID, nil, nil)
}

func (s *Session) HandlePing(ctx context.Context, f protocol.Ping) error {
	return s.respond(ctx, f.RequestID, nil, nil)
}

func (s *Session) HandlePublish(ctx context.Context, f protocol.Publish) error {
	transactional, err := s.tracker.CheckPublish(f.SessID)
	if err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	if f.Channel == "" || len(f.Event) == 0 {
		return s.respond(ctx, f.RequestID, fmt.Errorf("%w: channel and event are required", ErrInvalidRequest), nil)
	}
	if transactional {
		s.tx = append(s.tx, txEvent{channel: f.Channel, event: f.Event})
		return s.respond(ctx, f.RequestID, nil, nil)
	}

	pos, err := s.broker.log.Append(ctx, f.Channel, f.Event)
	if err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	return s.respond(ctx, f.RequestID, nil, func(r *protocol.Response) {
		r.Result = posDocument(pos[0])
	})
}

func posDocument(pos int64) bson.Raw {
	doc, _ := bson.Marshal(bson.D{{Key: "pos", Value: pos}})
	return doc
}

func (s *Session) HandleStartTx(ctx context.Context, f protocol.StartTx) error {
	if f.SessID == "" {
		return s.respond(ctx, f.RequestID, fmt.Errorf("%w: sessID is required", ErrInvalidRequest), nil)
	}
	if err := s.tracker.BeginTx(f.SessID); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	s.tx = s.tx[:0]
	return s.respond(ctx, f.RequestID, nil, nil)
}

func (s *Session) HandleCommitTx(ctx context.Context, f protocol.CommitTx) error {
	if err := s.tracker.EndTx(f.SessID); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	events := s.tx
	s.tx = nil
	return s.respond(ctx, f.RequestID, s.commit(ctx, events), nil)
}

// commit appends the transaction's events grouped by channel, keeping
// publish order within each channel. Every channel is checked first so a
// missing channel fails the commit before anything is appended.
func (s *Session) commit(ctx context.Context, events []txEvent) error {
	if len(events) == 0 {
		return nil
	}
	var order []string
	grouped := map[string][][]byte{}
	for _, ev := range events {
		if _, ok := grouped[ev.channel]; !ok {
			order = append(order, ev.channel)
		}
		grouped[ev.channel] = append(grouped[ev.channel], ev.event)
	}

	known, err := s.broker.log.ListChannels(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(known))
	for _, c := range known {
		existing[c] = true
	}
	for _, channel := range order {
		if !existing[channel] {
			return fmt.Errorf("%w: %s", services.ErrNoSuchChannel, channel)
		}
	}

	for _, channel := range order {
		if _, err := s.broker.log.Append(ctx, channel, grouped[channel]...); err != nil {
			return fmt.Errorf("commit to %s: %w", channel, err)
		}
	}
	return nil
}

func (s *Session) HandleAbortTx(ctx context.Context, f protocol.AbortTx) error {
	if err := s.tracker.EndTx(f.SessID); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	s.tx = nil
	return s.respond(ctx, f.RequestID, nil, nil)
}

func (s *Session) HandleFindByID(ctx context.Context, f protocol.FindByID) error {
	if err := s.tracker.RequireConnected(); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	doc, err := s.broker.binders.Get(ctx, f.Binder, f.DocID)
	if errors.Is(err, services.ErrNoSuchDocument) {
		// found nothing: ok with no result
		return s.respond(ctx, f.RequestID, nil, nil)
	}
	if err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	return s.respond(ctx, f.RequestID, nil, func(r *protocol.Response) {
		r.Result = doc
	})
}

func (s *Session) HandleListBinders(ctx context.Context, f protocol.ListBinders) error {
	if err := s.tracker.RequireConnected(); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	binders, err := s.broker.binders.ListBinders(ctx)
	return s.respond(ctx, f.RequestID, err, func(r *protocol.Response) {
		r.Binders = binders
	})
}

func (s *Session) HandleCreateBinder(ctx context.Context, f protocol.CreateBinder) error {
	if err := s.tracker.RequireConnected(); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	if err := common.ValidateName(f.Name); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	existed, err := s.broker.binders.CreateBinder(ctx, f.Name)
	return s.respond(ctx, f.RequestID, err, func(r *protocol.Response) {
		r.Exists = existed
	})
}

func (s *Session) HandleListChannels(ctx context.Context, f protocol.ListChannels) error {
	if err := s.tracker.RequireConnected(); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	channels, err := s.broker.log.ListChannels(ctx)
	return s.respond(ctx, f.RequestID, err, func(r *protocol.Response) {
		r.Channels = channels
	})
}

func (s *Session) HandleCreateChannel(ctx context.Context, f protocol.CreateChannel) error {
	if err := s.tracker.RequireConnected(); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	if err := common.ValidateName(f.Name); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	existed, err := s.broker.log.CreateChannel(ctx, f.Name)
	return s.respond(ctx, f.RequestID, err, func(r *protocol.Response) {
		r.Exists = existed
	})
}

func (s *Session) HandleCommand(ctx context.Context, f protocol.Command) error {
	if err := s.tracker.RequireConnected(); err != nil {
		return s.respond(ctx, f.RequestID, err, nil)
	}
	fn, ok := s.broker.commands.get(f.Name)
	if !ok {
		return s.respond(ctx, f.RequestID, fmt.Errorf("%w: %q", ErrNoSuchCommand, f.Name), nil)
	}
	result, err := fn(ctx, f.Command)
	return s.respond(ctx, f.RequestID, err, func(r *protocol.Response) {
		r.Result = result
	})
}

// Close ends the session: queries and subscriptions stop, an open
// transaction is discarded, durable positions are kept.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		abandoned := s.tracker.Disconnect()
		s.cancel()

		for _, id := range abandoned.Subscriptions {
			if sub, ok := s.subs.Get(id); ok {
				sub.stop()
				s.subs.Del(id)
			}
		}
		for _, id := range abandoned.Queries {
			if q, ok := s.queries.Get(id); ok {
				q.window.Close()
			}
		}
		s.wg.Wait()
		s.broker.forget(s.id)

		s.logger.Info("session closed",
			"abandoned_tx", abandoned.TxSessID != "",
			"subscriptions", len(abandoned.Subscriptions),
			"queries", len(abandoned.Queries))
	})
}
