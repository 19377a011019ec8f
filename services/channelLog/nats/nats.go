package nats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/ds"
	"github.com/kychandar/evwire/services"
	"github.com/nats-io/nats.go"
)

// NatsChannelLog stores each channel in its own JetStream stream. Stream
// sequence numbers are the channel positions.
type NatsChannelLog struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	storage  nats.StorageType
	streamMu sync.Mutex
	// appendMu keeps the events of one Append call contiguous with respect to
	// other appends made through this log.
	appendMu *haxmap.Map[string, *sync.Mutex]
}

func NewNatsChannelLog(natsURL string, storage nats.StorageType, opts ...nats.Option) (services.ChannelLog, error) {
	nc, err := nats.Connect(natsURL, append([]nats.Option{nats.Name("evwire")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}

	return &NatsChannelLog{
		nc:       nc,
		js:       js,
		storage:  storage,
		appendMu: haxmap.New[string, *sync.Mutex](),
	}, nil
}

func (n *NatsChannelLog) CreateChannel(ctx context.Context, name string) (bool, error) {
	n.streamMu.Lock()
	defer n.streamMu.Unlock()

	streamName := common.ChannelStreamName(name)
	_, err := n.js.StreamInfo(streamName, nats.Context(ctx))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return false, fmt.Errorf("get stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{common.ChannelSubjFormat(name)},
		Storage:  n.storage,
	}
	if _, err := n.js.AddStream(cfg, nats.Context(ctx)); err != nil {
		return false, fmt.Errorf("create stream: %w", err)
	}
	return false, nil
}

func (n *NatsChannelLog) ListChannels(ctx context.Context) ([]string, error) {
	var channels []string
	for name := range n.js.StreamNames(nats.Context(ctx)) {
		if channel, ok := strings.CutPrefix(name, common.ChannelStreamPrefix); ok {
			channels = append(channels, channel)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Strings(channels)
	return channels, nil
}

func (n *NatsChannelLog) Append(ctx context.Context, channel string, events ...[]byte) ([]int64, error) {
	mu, _ := n.appendMu.GetOrCompute(channel, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	defer mu.Unlock()

	subject := common.ChannelSubjFormat(channel)
	positions := make([]int64, 0, len(events))
	for _, event := range events {
		ack, err := n.js.Publish(subject, event, nats.Context(ctx), nats.ExpectStream(common.ChannelStreamName(channel)))
		if err != nil {
			if errors.Is(err, nats.ErrNoStreamResponse) || errors.Is(err, nats.ErrNoResponders) {
				return positions, fmt.Errorf("%w: %s", services.ErrNoSuchChannel, channel)
			}
			return positions, fmt.Errorf("publish: %w", err)
		}
		positions = append(positions, int64(ack.Sequence))
	}
	return positions, nil
}

func (n *NatsChannelLog) Subscribe(ctx context.Context, channel string, from ds.StartFrom, fn func(ds.Event) error) (services.Subscription, error) {
	streamName := common.ChannelStreamName(channel)
	if _, err := n.js.StreamInfo(streamName, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("%w: %s", services.ErrNoSuchChannel, channel)
		}
		return nil, fmt.Errorf("get stream info: %w", err)
	}

	opts := []nats.SubOpt{nats.OrderedConsumer(), nats.BindStream(streamName)}
	switch {
	case from.Pos != nil && *from.Pos > 1:
		opts = append(opts, nats.StartSequence(uint64(*from.Pos)))
	case from.Pos != nil:
		opts = append(opts, nats.DeliverAll())
	case from.Timestamp != nil:
		opts = append(opts, nats.StartTime(*from.Timestamp))
	default:
		opts = append(opts, nats.DeliverNew())
	}

	s := &natsSubscription{done: make(chan struct{})}
	sub, err := n.js.Subscribe(common.ChannelSubjFormat(channel), func(m *nats.Msg) {
		select {
		case <-s.done:
			return
		default:
		}
		meta, err := m.Metadata()
		if err != nil {
			s.stop(fmt.Errorf("message metadata: %w", err))
			return
		}
		ev := ds.Event{
			Channel:   channel,
			Pos:       int64(meta.Sequence.Stream),
			Timestamp: meta.Timestamp,
			Payload:   m.Data,
		}
		if err := fn(ev); err != nil {
			s.stop(err)
		}
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	select {
	case <-s.done:
		// fn failed before the subscription handle was stored
		_ = sub.Unsubscribe()
		return s, nil
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
			s.stop(ctx.Err())
		case <-s.done:
		}
	}()
	return s, nil
}

// Close drains the connection, letting in-flight callbacks finish.
func (n *NatsChannelLog) Close() error {
	done := make(chan struct{})

	n.nc.SetClosedHandler(func(_ *nats.Conn) {
		close(done) // signal that drain is done
	})

	if err := n.nc.Drain(); err != nil {
		return err
	}

	<-done
	return nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *natsSubscription) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		sub := s.sub
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		close(s.done)
	})
}

func (s *natsSubscription) Unsubscribe() error {
	s.stop(nil)
	return nil
}

func (s *natsSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *natsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
