package broker

import (
	"context"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/evwire/services"
	"github.com/kychandar/evwire/session"
	slogctx "github.com/veqryn/slog-context"
)

const (
	DefaultSubscriptionCredit = 1024 * 1024
	DefaultQueryCredit        = 1024 * 1024
	DefaultVersion            = "0.1"
)

// Broker holds the collaborators shared by every connection and hands out one
// Session per connection.
type Broker struct {
	log      services.ChannelLog
	binders  services.BinderStore
	durables services.DurableStore
	auth     services.Authenticator
	metrics  services.MetricsRegistry

	queries  *registry[QueryFunc]
	commands *registry[CommandFunc]
	sessions *haxmap.Map[string, *Session]

	nextSubID          atomic.Int64
	subscriptionCredit int64
	queryCredit        int64
	version            string
}

type Option func(*Broker)

func WithAuthenticator(auth services.Authenticator) Option {
	return func(b *Broker) {
		b.auth = auth
	}
}

// WithSubscriptionCredit sets the unacknowledged byte limit per subscription.
func WithSubscriptionCredit(n int64) Option {
	return func(b *Broker) {
		if n > 0 {
			b.subscriptionCredit = n
		}
	}
}

// WithQueryCredit sets the unacknowledged byte limit per query.
func WithQueryCredit(n int64) Option {
	return func(b *Broker) {
		if n > 0 {
			b.queryCredit = n
		}
	}
}

// WithVersion sets the protocol version accepted in CONNECT.
func WithVersion(v string) Option {
	return func(b *Broker) {
		b.version = v
	}
}

func New(
	log services.ChannelLog,
	binders services.BinderStore,
	durables services.DurableStore,
	metrics services.MetricsRegistry,
	opts ...Option,
) *Broker {
	b := &Broker{
		log:                log,
		binders:            binders,
		durables:           durables,
		auth:               AllowAll(),
		metrics:            metrics,
		queries:            newRegistry[QueryFunc](),
		commands:           newRegistry[CommandFunc](),
		sessions:           haxmap.New[string, *Session](),
		subscriptionCredit: DefaultSubscriptionCredit,
		queryCredit:        DefaultQueryCredit,
		version:            DefaultVersion,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.RegisterQuery("allDocs", allDocsQuery(binders))
	b.RegisterCommand("putDocument", putDocumentCommand(binders))
	b.RegisterCommand("publish", publishCommand(log))
	return b
}

// RegisterQuery makes fn available to QUERY frames under name.
func (b *Broker) RegisterQuery(name string, fn QueryFunc) {
	b.queries.set(name, fn)
}

// RegisterCommand makes fn available to COMMAND frames under name.
func (b *Broker) RegisterCommand(name string, fn CommandFunc) {
	b.commands.set(name, fn)
}

// NewSession creates the handler for one connection. Frames the session sends
// go to writer. ctx bounds the lifetime of the session's subscriptions and
// queries; Close must be called when the connection ends.
func (b *Broker) NewSession(ctx context.Context, connID string, writer services.FrameWriter) *Session {
	logger := slogctx.FromCtx(ctx).With("component", "session", "conn_id", connID)
	ctx, cancel := context.WithCancel(slogctx.NewCtx(ctx, logger))
	s := &Session{
		id:      connID,
		broker:  b,
		writer:  writer,
		tracker: session.NewTracker(),
		ctx:     ctx,
		cancel:  cancel,
		subs:    haxmap.New[int64, *subscription](),
		queries: haxmap.New[int64, *runningQuery](),
		logger:  logger,
	}
	b.sessions.Set(connID, s)
	return s
}

// Sessions returns the number of open sessions.
func (b *Broker) Sessions() int {
	return int(b.sessions.Len())
}

// Close ends every open session.
func (b *Broker) Close() {
	var open []*Session
	b.sessions.ForEach(func(_ string, s *Session) bool {
		open = append(open, s)
		return true
	})
	for _, s := range open {
		s.Close()
	}
}

func (b *Broker) forget(connID string) {
	b.sessions.Del(connID)
}
