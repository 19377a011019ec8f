package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kychandar/evwire/protocol"
	"go.mongodb.org/mongo-driver/bson"
)

var ErrUnexpectedResult = errors.New("client: result for unknown query")

const resultBuffer = 64

type queryRow struct {
	result protocol.QueryResult
	size   int
}

func (r queryRow) terminal() bool {
	return r.result.Last || !r.result.OK
}

type queryStream struct {
	id   int64
	rows chan queryRow
	// gone is closed when the caller stops reading
	gone     chan struct{}
	goneOnce sync.Once
	// finished is closed once the terminal result has been received
	finished chan struct{}
	err      error
}

func (q *queryStream) end(err error) {
	q.goneOnce.Do(func() {
		q.err = err
		close(q.gone)
	})
}

// Query runs a named query and calls fn for every result document in order.
// It returns when the last result has arrived. An error from fn stops further
// calls but the remaining results are still consumed.
func (c *Client) Query(ctx context.Context, name string, params any, fn func(bson.Raw) error) error {
	p, err := marshal(params)
	if err != nil {
		return err
	}
	q := &queryStream{
		id:       c.nextQueryID.Add(1),
		rows:     make(chan queryRow, resultBuffer),
		gone:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	c.queries.Set(q.id, q)
	if err := c.send(protocol.Query{QueryID: q.id, Name: name, Params: p}); err != nil {
		c.queries.Del(q.id)
		return err
	}

	var fnErr error
	for {
		select {
		case row := <-q.rows:
			r := row.result
			if !r.OK {
				return &ResponseError{Code: r.ErrCode, Msg: r.ErrMsg}
			}
			if len(r.Result) > 0 && fnErr == nil {
				fnErr = fn(r.Result)
			}
			if r.Last {
				return fnErr
			}
			if err := c.send(protocol.QueryAck{QueryID: q.id, Bytes: int64(row.size)}); err != nil {
				return err
			}
		case <-q.gone:
			return q.err
		case <-ctx.Done():
			q.end(ctx.Err())
			go c.drain(q)
			return ctx.Err()
		}
	}
}

// drain acknowledges the results of a query nobody reads any more until the
// broker ends it.
func (c *Client) drain(q *queryStream) {
	ack := func(row queryRow) {
		if !row.terminal() {
			_ = c.send(protocol.QueryAck{QueryID: q.id, Bytes: int64(row.size)})
		}
	}
	for {
		select {
		case row := <-q.rows:
			ack(row)
		case <-q.finished:
			for {
				select {
				case row := <-q.rows:
					ack(row)
				default:
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

// HandleQueryResult routes a result to its query. A result for a query that
// is not running, including one after its last result, ends the connection.
func (c *Client) HandleQueryResult(_ context.Context, size int, f protocol.QueryResult) error {
	q, ok := c.queries.Get(f.QueryID)
	if !ok {
		return fmt.Errorf("%w: queryID %d", ErrUnexpectedResult, f.QueryID)
	}
	row := queryRow{result: f, size: size}
	if row.terminal() {
		c.queries.Del(f.QueryID)
		defer close(q.finished)
	}
	select {
	case q.rows <- row:
	case <-q.gone:
		if !row.terminal() {
			return c.send(protocol.QueryAck{QueryID: f.QueryID, Bytes: int64(size)})
		}
	case <-c.done:
	}
	return nil
}
