package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/config"
	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/services"
	"github.com/kychandar/evwire/services/binderStore/valkey"
	"github.com/kychandar/evwire/services/channelLog/memory"
	metricsregistry "github.com/kychandar/evwire/services/metricsRegistry"
)

type recorded struct {
	frame protocol.Frame
	size  int
}

// recorder is a FrameWriter that decodes what the session sends.
type recorder struct {
	protocol.UnimplementedHandler

	mu     sync.Mutex
	proto  *protocol.Protocol
	frames []recorded
}

func newRecorder() *recorder {
	r := &recorder{}
	r.proto = protocol.New(r)
	return r
}

func (r *recorder) Write(ctx context.Context, msg common.OutboundMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proto.Feed(ctx, msg.Data)
}

func (r *recorder) Close() error { return nil }

// the Handle* methods run inside Write, with mu held

func (r *recorder) HandleResponse(_ context.Context, f protocol.Response) error {
	r.frames = append(r.frames, recorded{frame: f})
	return nil
}

func (r *recorder) HandleSubResponse(_ context.Context, f protocol.SubResponse) error {
	r.frames = append(r.frames, recorded{frame: f})
	return nil
}

func (r *recorder) HandleSubClose(_ context.Context, f protocol.SubClose) error {
	r.frames = append(r.frames, recorded{frame: f})
	return nil
}

func (r *recorder) HandleRecev(_ context.Context, size int, f protocol.Recev) error {
	r.frames = append(r.frames, recorded{frame: f, size: size})
	return nil
}

func (r *recorder) HandleQueryResult(_ context.Context, size int, f protocol.QueryResult) error {
	r.frames = append(r.frames, recorded{frame: f, size: size})
	return nil
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.frames...)
}

// framesOf returns every recorded frame of type T in send order.
func framesOf[T protocol.Frame](r *recorder) []T {
	var out []T
	for _, rec := range r.all() {
		if f, ok := rec.frame.(T); ok {
			out = append(out, f)
		}
	}
	return out
}

func sizesOf[T protocol.Frame](r *recorder) []int {
	var out []int
	for _, rec := range r.all() {
		if _, ok := rec.frame.(T); ok {
			out = append(out, rec.size)
		}
	}
	return out
}

func (r *recorder) response(t *testing.T, rID int64) protocol.Response {
	t.Helper()
	for _, f := range framesOf[protocol.Response](r) {
		if f.RequestID == rID {
			return f
		}
	}
	t.Fatalf("no response for rID %d", rID)
	return protocol.Response{}
}

func (r *recorder) subResponse(t *testing.T, rID int64) protocol.SubResponse {
	t.Helper()
	for _, f := range framesOf[protocol.SubResponse](r) {
		if f.RequestID == rID {
			return f
		}
	}
	t.Fatalf("no subscription response for rID %d", rID)
	return protocol.SubResponse{}
}

func (r *recorder) waitRecevs(t *testing.T, n int) []protocol.Recev {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(framesOf[protocol.Recev](r)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return framesOf[protocol.Recev](r)
}

type fixture struct {
	ctx    context.Context
	broker *Broker
	log    services.ChannelLog
	store  *valkey.ValkeyStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Valkey.Addr = []string{mr.Addr()}
	cfg.Valkey.DisableCache = true
	store, err := valkey.NewValkeyStore(cfg)
	require.NoError(t, err)

	log := memory.NewMemoryChannelLog()
	b := New(log, store, store, metricsregistry.New("test"), opts...)
	t.Cleanup(func() {
		b.Close()
		log.Close()
		store.Close()
	})
	return &fixture{ctx: context.Background(), broker: b, log: log, store: store}
}

// open starts a session and connects it.
func (f *fixture) open(t *testing.T) (*Session, *recorder) {
	t.Helper()
	s, rec := f.openUnconnected()
	require.NoError(t, s.HandleConnect(f.ctx, protocol.Connect{RequestID: 1}))
	require.True(t, rec.response(t, 1).OK)
	return s, rec
}

func (f *fixture) openUnconnected() (*Session, *recorder) {
	rec := newRecorder()
	return f.broker.NewSession(f.ctx, uuid.NewString(), rec), rec
}

func (f *fixture) channel(t *testing.T, name string) {
	t.Helper()
	_, err := f.log.CreateChannel(f.ctx, name)
	require.NoError(t, err)
}

func doc(t *testing.T, d bson.D) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(d)
	require.NoError(t, err)
	return b
}

func ptr[T any](v T) *T { return &v }
