package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/session"
	slogctx "github.com/veqryn/slog-context"
	"go.mongodb.org/mongo-driver/bson"
)

var ErrClosed = errors.New("client: connection closed")

// ResponseError is a request the broker answered with ok=false.
type ResponseError struct {
	Code protocol.ErrCode
	Msg  string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("broker: %s: %s", e.Code, e.Msg)
}

// Client is one connection to a broker. It is safe for concurrent use.
type Client struct {
	protocol.UnimplementedHandler

	conn    net.Conn
	proto   *protocol.Protocol
	corr    *session.Correlator
	logger  *slog.Logger
	writeMu sync.Mutex

	// pendingSubs holds subscriptions by rID until their SUBRESPONSE arrives
	pendingSubs *haxmap.Map[int64, *Subscription]
	subs        *haxmap.Map[int64, *Subscription]
	queries     *haxmap.Map[int64, *queryStream]
	nextQueryID atomic.Int64

	done      chan struct{}
	err       error
	closeOnce sync.Once
	protoOpts []protocol.Option
}

type Option func(*Client)

// WithProtocolOptions configures the inbound frame pipeline.
func WithProtocolOptions(opts ...protocol.Option) Option {
	return func(c *Client) {
		c.protoOpts = append(c.protoOpts, opts...)
	}
}

// Dial connects to a broker over TCP. The logger in ctx is used for the life
// of the client.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(ctx, conn, opts...), nil
}

// New runs the protocol over an established connection.
func New(ctx context.Context, conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:        conn,
		corr:        session.NewCorrelator(),
		logger:      slogctx.FromCtx(ctx).With("component", "client", "remote", conn.RemoteAddr().String()),
		pendingSubs: haxmap.New[int64, *Subscription](),
		subs:        haxmap.New[int64, *Subscription](),
		queries:     haxmap.New[int64, *queryStream](),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.proto = protocol.New(c, c.protoOpts...)

	go c.readLoop(slogctx.NewCtx(context.WithoutCancel(ctx), c.logger))
	return c
}

func (c *Client) readLoop(ctx context.Context) {
	err := c.proto.ReadFrom(ctx, c.conn)
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		err = ErrClosed
	} else {
		c.logger.WarnContext(ctx, "connection failed", "error", err)
	}
	c.shutdown(err)
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		c.conn.Close()
		c.corr.AbandonAll(err)
		c.subs.ForEach(func(_ int64, sub *Subscription) bool {
			sub.end(err)
			return true
		})
		c.pendingSubs.ForEach(func(_ int64, sub *Subscription) bool {
			sub.end(err)
			return true
		})
		c.queries.ForEach(func(_ int64, q *queryStream) bool {
			q.end(err)
			return true
		})
		close(c.done)
	})
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection. Outstanding requests fail with ErrClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) send(f protocol.Frame) error {
	wire, err := protocol.EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.FrameType(), err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return c.err
	default:
	}
	if _, err := c.conn.Write(wire); err != nil {
		return fmt.Errorf("write %s: %w", f.FrameType(), err)
	}
	return nil
}

// request sends the frame built for a fresh rID and waits for its answer.
func (c *Client) request(ctx context.Context, build func(rID int64) protocol.Frame) (protocol.Frame, error) {
	rID, ch, err := c.corr.Register()
	if err != nil {
		return nil, err
	}
	if err := c.send(build(rID)); err != nil {
		c.corr.Forget(rID)
		return nil, err
	}
	return c.corr.Wait(ctx, rID, ch)
}

func (c *Client) call(ctx context.Context, build func(rID int64) protocol.Frame) (protocol.Response, error) {
	f, err := c.request(ctx, build)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, ok := f.(protocol.Response)
	if !ok {
		return protocol.Response{}, fmt.Errorf("client: unexpected %s reply", f.FrameType())
	}
	if !resp.OK {
		return resp, &ResponseError{Code: resp.ErrCode, Msg: resp.ErrMsg}
	}
	return resp, nil
}

func (c *Client) HandleResponse(_ context.Context, f protocol.Response) error {
	return c.corr.Resolve(f.RequestID, f)
}

func marshal(v any) (bson.Raw, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(bson.Raw); ok {
		return raw, nil
	}
	b, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return b, nil
}

// Connect opens the session. authInfo is any BSON-marshalable document, or nil.
func (c *Client) Connect(ctx context.Context, version string, authInfo any) error {
	auth, err := marshal(authInfo)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.Connect{RequestID: rID, AuthInfo: auth, Version: version}
	})
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.Ping{RequestID: rID}
	})
	return err
}

// Publish appends event to channel and returns its position.
func (c *Client) Publish(ctx context.Context, channel string, event any) (int64, error) {
	resp, err := c.publish(ctx, channel, event, "")
	if err != nil {
		return 0, err
	}
	pos, _ := lookupInt64(resp.Result, "pos")
	return pos, nil
}

func (c *Client) publish(ctx context.Context, channel string, event any, sessID string) (protocol.Response, error) {
	doc, err := marshal(event)
	if err != nil {
		return protocol.Response{}, err
	}
	return c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.Publish{RequestID: rID, Channel: channel, Event: doc, SessID: sessID}
	})
}

func lookupInt64(doc bson.Raw, key string) (int64, bool) {
	if len(doc) == 0 {
		return 0, false
	}
	v, err := doc.LookupErr(key)
	if err != nil {
		return 0, false
	}
	return v.AsInt64OK()
}

// FindByID returns the document, or nil when the binder has no such ID.
func (c *Client) FindByID(ctx context.Context, binder, docID string) (bson.Raw, error) {
	resp, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.FindByID{RequestID: rID, Binder: binder, DocID: docID}
	})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) ListBinders(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.ListBinders{RequestID: rID}
	})
	return resp.Binders, err
}

func (c *Client) CreateBinder(ctx context.Context, name string) (existed bool, err error) {
	resp, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.CreateBinder{RequestID: rID, Name: name}
	})
	return resp.Exists, err
}

func (c *Client) ListChannels(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.ListChannels{RequestID: rID}
	})
	return resp.Channels, err
}

func (c *Client) CreateChannel(ctx context.Context, name string) (existed bool, err error) {
	resp, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.CreateChannel{RequestID: rID, Name: name}
	})
	return resp.Exists, err
}

// Command runs a named broker command and returns its result document.
func (c *Client) Command(ctx context.Context, name string, command any) (bson.Raw, error) {
	doc, err := marshal(command)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.Command{RequestID: rID, Name: name, Command: doc}
	})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}
