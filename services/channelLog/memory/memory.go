package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/evwire/ds"
	"github.com/kychandar/evwire/services"
)

var errUnsubscribed = errors.New("unsubscribed")

type channel struct {
	mu     sync.Mutex
	events []ds.Event
	// notify is closed and replaced on every append
	notify chan struct{}
}

// snapshot returns events from index i on, or a channel that is closed when
// more arrive.
func (c *channel) snapshot(i int) ([]ds.Event, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < len(c.events) {
		return c.events[i:len(c.events):len(c.events)], nil
	}
	return nil, c.notify
}

// MemoryChannelLog keeps channels in process memory. It serves single-node
// deployments and tests; nothing survives a restart.
type MemoryChannelLog struct {
	channels *haxmap.Map[string, *channel]
	now      func() time.Time
	closed   chan struct{}
	once     sync.Once
}

func NewMemoryChannelLog() services.ChannelLog {
	return &MemoryChannelLog{
		channels: haxmap.New[string, *channel](),
		now:      time.Now,
		closed:   make(chan struct{}),
	}
}

func (m *MemoryChannelLog) CreateChannel(_ context.Context, name string) (bool, error) {
	_, loaded := m.channels.GetOrCompute(name, func() *channel {
		return &channel{notify: make(chan struct{})}
	})
	return loaded, nil
}

func (m *MemoryChannelLog) ListChannels(context.Context) ([]string, error) {
	names := make([]string, 0, m.channels.Len())
	m.channels.ForEach(func(name string, _ *channel) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names, nil
}

func (m *MemoryChannelLog) Append(_ context.Context, name string, events ...[]byte) ([]int64, error) {
	c, ok := m.channels.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrNoSuchChannel, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := m.now()
	positions := make([]int64, 0, len(events))
	for _, payload := range events {
		ev := ds.Event{
			Channel:   name,
			Pos:       int64(len(c.events)) + 1,
			Timestamp: now,
			Payload:   payload,
		}
		c.events = append(c.events, ev)
		positions = append(positions, ev.Pos)
	}
	if len(events) > 0 {
		close(c.notify)
		c.notify = make(chan struct{})
	}
	return positions, nil
}

func (m *MemoryChannelLog) Subscribe(ctx context.Context, name string, from ds.StartFrom, fn func(ds.Event) error) (services.Subscription, error) {
	c, ok := m.channels.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrNoSuchChannel, name)
	}

	c.mu.Lock()
	start := 0
	switch {
	case from.NewOnly():
		start = len(c.events)
	case from.Pos != nil:
		start = int(max(*from.Pos-1, 0))
	default:
		start = sort.Search(len(c.events), func(i int) bool {
			return from.Includes(c.events[i])
		})
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s := &memorySubscription{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, c, start, fn, m.closed)
	return s, nil
}

func (m *MemoryChannelLog) Close() error {
	m.once.Do(func() {
		close(m.closed)
	})
	return nil
}

type memorySubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

func (s *memorySubscription) run(ctx context.Context, c *channel, next int, fn func(ds.Event) error, closed <-chan struct{}) {
	defer close(s.done)
	for {
		events, wait := c.snapshot(next)
		for _, ev := range events {
			if ctx.Err() != nil {
				s.finish(ctx.Err())
				return
			}
			if err := fn(ev); err != nil {
				s.finish(err)
				return
			}
			next++
		}
		if wait == nil {
			continue
		}
		select {
		case <-wait:
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		case <-closed:
			s.finish(services.ErrSubscriptionEnd)
			return
		}
	}
}

func (s *memorySubscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.err == nil {
		s.err = errUnsubscribed
	}
	s.mu.Unlock()
	s.cancel()
	return nil
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

func (s *memorySubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == errUnsubscribed {
		return nil
	}
	return s.err
}
