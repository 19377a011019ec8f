package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"

	slogctx "github.com/veqryn/slog-context"
)

const defaultReadBufferSize = 4096

// Protocol is the inbound pipeline of one connection: Framer, then Codec,
// then Dispatcher. Frames are dispatched strictly in arrival order and a
// handler call returns before the next frame is parsed.
type Protocol struct {
	framer        *Framer
	dispatcher    *Dispatcher
	skipUnknown   bool
	skipMalformed bool
	readBuffer    func() ([]byte, func())
	observer      func(t FrameType, size int)
}

type Option func(*Protocol)

// WithMaxFrameSize bounds the body size accepted by the framer.
func WithMaxFrameSize(n int) Option {
	return func(p *Protocol) {
		p.framer = NewFramer(n)
	}
}

// WithSkipUnknownFrames logs and drops frames with an unrecognized type tag
// instead of failing the connection.
func WithSkipUnknownFrames() Option {
	return func(p *Protocol) {
		p.skipUnknown = true
	}
}

// WithSkipMalformedFrames logs and drops frames whose envelope or payload
// cannot be decoded instead of failing the connection.
func WithSkipMalformedFrames() Option {
	return func(p *Protocol) {
		p.skipMalformed = true
	}
}

// WithReadBuffer supplies read buffers for ReadFrom. release is called when
// the buffer is no longer needed.
func WithReadBuffer(get func() (buf []byte, release func())) Option {
	return func(p *Protocol) {
		p.readBuffer = get
	}
}

// WithFrameObserver is called for every decoded frame before dispatch.
func WithFrameObserver(fn func(t FrameType, size int)) Option {
	return func(p *Protocol) {
		p.observer = fn
	}
}

func New(handler FrameHandler, opts ...Option) *Protocol {
	p := &Protocol{
		framer:     NewFramer(DefaultMaxFrameSize),
		dispatcher: NewDispatcher(handler),
		readBuffer: func() ([]byte, func()) {
			return make([]byte, defaultReadBufferSize), func() {}
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed pushes one chunk of the inbound stream through the pipeline. Any
// returned error is an *Error and the connection should be closed.
func (p *Protocol) Feed(ctx context.Context, chunk []byte) error {
	frames, ferr := p.framer.Feed(chunk)
	for _, wire := range frames {
		if err := p.handle(ctx, wire); err != nil {
			return err
		}
	}
	if ferr != nil {
		return &Error{Kind: KindFraming, Err: ferr}
	}
	return nil
}

// ReadFrom feeds the pipeline from r until r is exhausted, ctx is done, or an
// error occurs. A clean end of stream returns nil; ending mid-frame returns a
// framing error.
func (p *Protocol) ReadFrom(ctx context.Context, r io.Reader) error {
	buf, release := p.readBuffer()
	defer release()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := p.Feed(ctx, buf[:n]); err != nil {
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				if err := p.framer.Close(); err != nil {
					return &Error{Kind: KindFraming, Err: err}
				}
				return nil
			}
			return fmt.Errorf("protocol: read: %w", rerr)
		}
	}
}

// Close checks that the stream ended on a frame boundary.
func (p *Protocol) Close() error {
	if err := p.framer.Close(); err != nil {
		return &Error{Kind: KindFraming, Err: err}
	}
	return nil
}

func (p *Protocol) handle(ctx context.Context, wire []byte) error {
	env, err := Decode(wire)
	if err != nil {
		return p.reject(ctx, env, err)
	}
	if p.observer != nil {
		p.observer(env.Type, env.Size)
	}
	if err := p.dispatcher.Dispatch(ctx, env); err != nil {
		if errors.Is(err, ErrEnvelope) {
			return p.reject(ctx, env, err)
		}
		return &Error{Kind: KindHandler, Type: env.Type, Err: err}
	}
	return nil
}

func (p *Protocol) reject(ctx context.Context, env Envelope, err error) error {
	kind := classify(err)
	skip := (kind == KindUnknownType && p.skipUnknown) ||
		(kind == KindEnvelope && p.skipMalformed)
	if !skip {
		return &Error{Kind: kind, Type: env.Type, Err: err}
	}
	slogctx.FromCtx(ctx).WarnContext(ctx, "skipping frame",
		"kind", kind.String(),
		"size", env.Size,
		"err", err)
	return nil
}
