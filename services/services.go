package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/ds"
)

var (
	ErrNoSuchChannel   = errors.New("no such channel")
	ErrNoSuchBinder    = errors.New("no such binder")
	ErrNoSuchDocument  = errors.New("no such document")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrWriterClosed    = errors.New("connection writer closed")
	ErrSubscriptionEnd = errors.New("subscription ended by channel log")
)

// ChannelLog is the append-only, position-addressed event store behind
// channels. Positions start at 1 per channel.
type ChannelLog interface {
	CreateChannel(ctx context.Context, name string) (existed bool, err error)
	ListChannels(ctx context.Context) ([]string, error)
	// Append stores events in order and returns their positions. Events of a
	// single call are appended contiguously.
	Append(ctx context.Context, channel string, events ...[]byte) ([]int64, error)
	// Subscribe calls fn for every event at or after from, in position order,
	// one call at a time. Returning an error from fn ends the subscription.
	Subscribe(ctx context.Context, channel string, from ds.StartFrom, fn func(ds.Event) error) (Subscription, error)
	Close() error
}

type Subscription interface {
	Unsubscribe() error
	// Done is closed when delivery has stopped for any reason.
	Done() <-chan struct{}
	// Err is the reason delivery stopped; nil after Unsubscribe.
	Err() error
}

// Document is one entry of a binder.
type Document struct {
	ID   string
	Data []byte
}

// BinderStore keeps named collections of BSON documents keyed by ID.
type BinderStore interface {
	CreateBinder(ctx context.Context, name string) (existed bool, err error)
	ListBinders(ctx context.Context) ([]string, error)
	Put(ctx context.Context, binder, docID string, doc []byte) error
	Get(ctx context.Context, binder, docID string) ([]byte, error)
	// Scan returns every document of binder ordered by ID.
	Scan(ctx context.Context, binder string) ([]Document, error)
	Close()
}

// DurableStore persists the last acknowledged position of durable
// subscriptions.
type DurableStore interface {
	SavePosition(ctx context.Context, channel, durableID string, pos int64) error
	LoadPosition(ctx context.Context, channel, durableID string) (pos int64, found bool, err error)
	DeletePosition(ctx context.Context, channel, durableID string) error
}

// Authenticator validates the authInfo document of a CONNECT frame.
type Authenticator interface {
	Authenticate(ctx context.Context, authInfo []byte) error
}

// FrameWriter is the ordered, per-connection outbound queue.
type FrameWriter interface {
	Write(ctx context.Context, msg common.OutboundMsg) error
	Close() error
}

// ConnWriterManager owns the FrameWriter of every open connection.
type ConnWriterManager interface {
	Register(connID string, w io.Writer) FrameWriter
	Get(connID string) (FrameWriter, bool)
	Delete(connID string)
	Len() int
	CloseAll()
}

type MetricsRegistry interface {
	GetHandler() http.Handler
	ObserveFrameIn(frameType string, size int)
	ObserveFrameOut(frameType string, size int)
	ObserveWriteLatency(enqueued time.Time)
	ObserveCreditStall(kind string)
	IncConnectionCount(transport string)
	DecConnectionCount(transport string)
	IncSubscriptions()
	DecSubscriptions()
}
