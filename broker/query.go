package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/session"
	"go.mongodb.org/mongo-driver/bson"
)

type runningQuery struct {
	id     int64
	window *session.Window
}

// HandleQuery starts a named query. Results stream from their own goroutine
// so QUERYACK frames keep flowing through the read loop.
func (s *Session) HandleQuery(ctx context.Context, f protocol.Query) error {
	if err := s.tracker.StartQuery(f.QueryID); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return s.send(ctx, queryFailure(f.QueryID, err))
		}
		// a second QUERY reusing a live queryID cannot be answered without
		// corrupting the first one's result stream
		return fmt.Errorf("query %d: %w", f.QueryID, err)
	}

	fn, ok := s.broker.queries.get(f.Name)
	if !ok {
		_ = s.tracker.FinishQuery(f.QueryID)
		return s.send(ctx, queryFailure(f.QueryID, fmt.Errorf("%w: %q", ErrNoSuchQuery, f.Name)))
	}

	q := &runningQuery{id: f.QueryID, window: session.NewWindow(s.broker.queryCredit)}
	s.queries.Set(q.id, q)
	s.wg.Add(1)
	go s.runQuery(q, fn, f.Params)
	return nil
}

func queryFailure(queryID int64, err error) protocol.QueryResult {
	return protocol.QueryResult{
		QueryID: queryID,
		ErrCode: errCode(err),
		ErrMsg:  err.Error(),
		Last:    true,
	}
}

// runQuery sends one QUERYRESULT per row. A row is held back until the next
// one arrives so the final row can carry last=true; a query without rows
// ends with a single empty last frame.
func (s *Session) runQuery(q *runningQuery, fn QueryFunc, params bson.Raw) {
	defer s.wg.Done()
	ctx := s.ctx
	// finish forgets q before the ID is released, so a query reusing the ID
	// never shares state with this one
	finish := func() {
		s.queries.Del(q.id)
		q.window.Close()
		_ = s.tracker.FinishQuery(q.id)
	}

	var pending bson.Raw
	emit := func(doc bson.Raw) error {
		if pending != nil {
			if err := s.sendResult(ctx, q, protocol.QueryResult{QueryID: q.id, OK: true, Result: pending}); err != nil {
				return err
			}
		}
		pending = doc
		return nil
	}

	err := fn(ctx, params, emit)
	if ctx.Err() != nil {
		finish()
		return
	}

	if err != nil {
		if pending != nil {
			if serr := s.sendResult(ctx, q, protocol.QueryResult{QueryID: q.id, OK: true, Result: pending}); serr != nil {
				finish()
				return
			}
		}
		s.logger.WarnContext(ctx, "query failed", "query_id", q.id, "error", err)
		finish()
		s.sendFinal(ctx, q.id, queryFailure(q.id, err))
		return
	}
	if pending == nil {
		finish()
		s.sendFinal(ctx, q.id, protocol.QueryResult{QueryID: q.id, OK: true, Last: true})
		return
	}

	// the last row needs credit like any other; the ID is released once it
	// is granted and before the frame is queued, so a client reusing it as
	// soon as it sees last=true is not rejected
	finished := false
	_, err = s.sendSized(ctx, protocol.QueryResult{QueryID: q.id, OK: true, Result: pending, Last: true}, func(size int64) error {
		if err := s.acquireQueryCredit(ctx, q, size); err != nil {
			return err
		}
		finish()
		finished = true
		return nil
	})
	if !finished {
		finish()
	}
	if err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "sending final query result", "query_id", q.id, "error", err)
	}
}

func (s *Session) sendFinal(ctx context.Context, queryID int64, r protocol.QueryResult) {
	if err := s.send(ctx, r); err != nil {
		s.logger.WarnContext(ctx, "sending final query result", "query_id", queryID, "error", err)
	}
}

// sendResult sends a non-final row once the query has credit for it.
func (s *Session) sendResult(ctx context.Context, q *runningQuery, r protocol.QueryResult) error {
	_, err := s.sendSized(ctx, r, func(size int64) error {
		return s.acquireQueryCredit(ctx, q, size)
	})
	return err
}

func (s *Session) acquireQueryCredit(ctx context.Context, q *runningQuery, size int64) error {
	if q.window.TryAcquire(size) {
		return nil
	}
	s.broker.metrics.ObserveCreditStall("query")
	return q.window.Acquire(ctx, size)
}

func (s *Session) HandleQueryAck(ctx context.Context, f protocol.QueryAck) error {
	if err := s.tracker.CheckQuery(f.QueryID); err != nil {
		// acks for rows sent before the last one may arrive after it
		s.logger.DebugContext(ctx, "ack for finished query", "query_id", f.QueryID)
		return nil
	}
	if q, ok := s.queries.Get(f.QueryID); ok {
		q.window.Release(f.Bytes)
	}
	return nil
}
