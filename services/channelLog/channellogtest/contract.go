// Package channellogtest holds the behaviour every services.ChannelLog
// implementation must share.
package channellogtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kychandar/evwire/ds"
	"github.com/kychandar/evwire/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type collector struct {
	mu     sync.Mutex
	events []ds.Event
}

func (c *collector) add(ev ds.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) positions() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Pos)
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func payloads(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("event-%d", i+1))
	}
	return out
}

// Run exercises log against the ChannelLog contract. newLog must return a
// fresh, empty log.
func Run(t *testing.T, newLog func(t *testing.T) services.ChannelLog) {
	t.Run("create and list", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		existed, err := log.CreateChannel(ctx, "orders")
		require.NoError(t, err)
		assert.False(t, existed)

		existed, err = log.CreateChannel(ctx, "orders")
		require.NoError(t, err)
		assert.True(t, existed)

		_, err = log.CreateChannel(ctx, "audit")
		require.NoError(t, err)

		channels, err := log.ListChannels(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"audit", "orders"}, channels)
	})

	t.Run("append assigns increasing positions", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		_, err := log.CreateChannel(ctx, "orders")
		require.NoError(t, err)

		pos, err := log.Append(ctx, "orders", payloads(3)...)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, pos)

		pos, err = log.Append(ctx, "orders", []byte("more"))
		require.NoError(t, err)
		assert.Equal(t, []int64{4}, pos)
	})

	t.Run("append to missing channel", func(t *testing.T) {
		log := newLog(t)
		_, err := log.Append(context.Background(), "missing", []byte("x"))
		assert.ErrorIs(t, err, services.ErrNoSuchChannel)
	})

	t.Run("subscribe to missing channel", func(t *testing.T) {
		log := newLog(t)
		_, err := log.Subscribe(context.Background(), "missing", ds.StartFrom{}, func(ds.Event) error { return nil })
		assert.ErrorIs(t, err, services.ErrNoSuchChannel)
	})

	t.Run("subscribe from position replays then follows", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		_, err := log.CreateChannel(ctx, "orders")
		require.NoError(t, err)
		_, err = log.Append(ctx, "orders", payloads(5)...)
		require.NoError(t, err)

		got := &collector{}
		sub, err := log.Subscribe(ctx, "orders", ds.FromPosition(3), got.add)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.Eventually(t, func() bool { return got.len() == 3 }, waitFor, 10*time.Millisecond)
		_, err = log.Append(ctx, "orders", []byte("six"))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return got.len() == 4 }, waitFor, 10*time.Millisecond)

		assert.Equal(t, []int64{3, 4, 5, 6}, got.positions())
		got.mu.Lock()
		assert.Equal(t, []byte("event-3"), got.events[0].Payload)
		assert.Equal(t, "orders", got.events[0].Channel)
		assert.False(t, got.events[0].Timestamp.IsZero())
		got.mu.Unlock()
	})

	t.Run("subscribe new only", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		_, err := log.CreateChannel(ctx, "orders")
		require.NoError(t, err)
		_, err = log.Append(ctx, "orders", payloads(2)...)
		require.NoError(t, err)

		got := &collector{}
		sub, err := log.Subscribe(ctx, "orders", ds.StartFrom{}, got.add)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		_, err = log.Append(ctx, "orders", []byte("new"))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, 10*time.Millisecond)
		assert.Equal(t, []int64{3}, got.positions())
	})

	t.Run("subscribe from timestamp", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		_, err := log.CreateChannel(ctx, "orders")
		require.NoError(t, err)
		_, err = log.Append(ctx, "orders", payloads(2)...)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		cut := time.Now()
		time.Sleep(20 * time.Millisecond)
		_, err = log.Append(ctx, "orders", []byte("after"))
		require.NoError(t, err)

		got := &collector{}
		sub, err := log.Subscribe(ctx, "orders", ds.FromTime(cut), got.add)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, 10*time.Millisecond)
		assert.Equal(t, []int64{3}, got.positions())
	})

	t.Run("handler error ends subscription", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		_, err := log.CreateChannel(ctx, "orders")
		require.NoError(t, err)
		_, err = log.Append(ctx, "orders", payloads(3)...)
		require.NoError(t, err)

		stop := fmt.Errorf("stop")
		calls := 0
		sub, err := log.Subscribe(ctx, "orders", ds.FromPosition(1), func(ds.Event) error {
			calls++
			return stop
		})
		require.NoError(t, err)

		select {
		case <-sub.Done():
		case <-time.After(waitFor):
			t.Fatal("subscription did not end")
		}
		assert.ErrorIs(t, sub.Err(), stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		_, err := log.CreateChannel(ctx, "orders")
		require.NoError(t, err)

		got := &collector{}
		sub, err := log.Subscribe(ctx, "orders", ds.StartFrom{}, got.add)
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())

		select {
		case <-sub.Done():
		case <-time.After(waitFor):
			t.Fatal("subscription did not end")
		}
		assert.NoError(t, sub.Err())

		_, err = log.Append(ctx, "orders", []byte("late"))
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, got.len())
	})

	t.Run("context cancel ends subscription", func(t *testing.T) {
		log := newLog(t)
		_, err := log.CreateChannel(context.Background(), "orders")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		sub, err := log.Subscribe(ctx, "orders", ds.StartFrom{}, func(ds.Event) error { return nil })
		require.NoError(t, err)
		cancel()

		select {
		case <-sub.Done():
		case <-time.After(waitFor):
			t.Fatal("subscription did not end")
		}
		assert.ErrorIs(t, sub.Err(), context.Canceled)
	})
}
