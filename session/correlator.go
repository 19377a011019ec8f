package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kychandar/evwire/protocol"
)

var (
	ErrUnexpectedResponse = errors.New("session: response for unknown request")
	ErrConnectionLost     = errors.New("session: connection lost")
)

// Reply is the outcome of one request: the response frame, or the error that
// ended the wait.
type Reply struct {
	Frame protocol.Frame
	Err   error
}

// Correlator allocates request IDs and pairs each with exactly one response.
type Correlator struct {
	mu      sync.Mutex
	next    int64
	pending map[int64]chan Reply
	err     error

	// cancelled holds requests whose caller gave up; their reply is dropped
	cancelled map[int64]struct{}
}

func NewCorrelator() *Correlator {
	return &Correlator{
		pending:   make(map[int64]chan Reply),
		cancelled: make(map[int64]struct{}),
	}
}

// Register allocates the next request ID and the channel its reply arrives on.
// It fails once the correlator has been abandoned.
func (c *Correlator) Register() (int64, <-chan Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, nil, c.err
	}
	c.next++
	ch := make(chan Reply, 1)
	c.pending[c.next] = ch
	return c.next, ch, nil
}

// Resolve delivers f to the waiter for rID. A second response for the same
// request, or one nobody asked for, is ErrUnexpectedResponse.
func (c *Correlator) Resolve(rID int64, f protocol.Frame) error {
	c.mu.Lock()
	ch, ok := c.pending[rID]
	delete(c.pending, rID)
	_, late := c.cancelled[rID]
	delete(c.cancelled, rID)
	c.mu.Unlock()
	if late {
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: rID %d", ErrUnexpectedResponse, rID)
	}
	ch <- Reply{Frame: f}
	return nil
}

// Forget drops a request that was never sent.
func (c *Correlator) Forget(rID int64) {
	c.mu.Lock()
	delete(c.pending, rID)
	c.mu.Unlock()
}

// Wait blocks for the reply to rID.
func (c *Correlator) Wait(ctx context.Context, rID int64, ch <-chan Reply) (protocol.Frame, error) {
	select {
	case r := <-ch:
		return r.Frame, r.Err
	case <-ctx.Done():
		c.mu.Lock()
		if _, ok := c.pending[rID]; ok {
			delete(c.pending, rID)
			c.cancelled[rID] = struct{}{}
		}
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// AbandonAll fails every outstanding request with err and rejects new ones.
func (c *Correlator) AbandonAll(err error) {
	if err == nil {
		err = ErrConnectionLost
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		ch <- Reply{Err: err}
		delete(c.pending, id)
	}
	clear(c.cancelled)
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
