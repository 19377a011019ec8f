package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kychandar/evwire/broker"
	"github.com/kychandar/evwire/client"
	"github.com/kychandar/evwire/config"
	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/services/binderStore/valkey"
	"github.com/kychandar/evwire/services/channelLog/memory"
	connwriter "github.com/kychandar/evwire/services/connWriter"
	metricsregistry "github.com/kychandar/evwire/services/metricsRegistry"
)

func createTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5
	cfg.Protocol.MaxFrameSize = protocol.DefaultMaxFrameSize
	cfg.Protocol.SubscriptionCredit = 1024 * 1024
	cfg.Protocol.QueryCredit = 1024 * 1024
	cfg.Protocol.WriteQueueSize = 64
	cfg.Protocol.Version = "0.1"
	cfg.Storage.Provider = config.StorageMemory
	cfg.Health.Enabled = true
	cfg.Health.Port = 0
	cfg.Health.ReadinessPath = "/health/ready"
	cfg.Health.LivenessPath = "/health/live"
	cfg.Health.MetricsPath = "/metrics"
	cfg.Health.WebSocketPath = "/ws"
	return cfg
}

type testServer struct {
	*Server
	cancel context.CancelFunc
	served chan error
}

// startTestServer serves a memory-backed broker on free local ports.
func startTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := createTestConfig()
	for _, m := range mutate {
		m(cfg)
	}

	mr := miniredis.RunT(t)
	cfg.Valkey.Addr = []string{mr.Addr()}
	cfg.Valkey.DisableCache = true
	store, err := valkey.NewValkeyStore(cfg)
	require.NoError(t, err)

	log := memory.NewMemoryChannelLog()
	metrics := metricsregistry.New("test")
	b := broker.New(log, store, store, metrics,
		broker.WithVersion(cfg.Protocol.Version),
		broker.WithSubscriptionCredit(cfg.Protocol.SubscriptionCredit),
		broker.WithQueryCredit(cfg.Protocol.QueryCredit),
	)
	writers := connwriter.NewConnWriterManager(cfg.Protocol.WriteQueueSize, metrics)

	srv := New(b, writers, metrics, createTestLogger(), cfg)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{Server: srv, cancel: cancel, served: make(chan error, 1)}
	go func() { ts.served <- srv.Serve(ctx) }()
	require.Eventually(t, srv.GetHealthChecker().IsReady, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.served:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		b.Close()
		log.Close()
		store.Close()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, ts.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Connect(ctx, "0.1", nil))
	return c
}

func (ts *testServer) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://%s%s", ts.HealthAddr(), path))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_TCPEndToEnd(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)
	ctx := context.Background()

	_, err := c.CreateChannel(ctx, "orders")
	require.NoError(t, err)

	var mu sync.Mutex
	var got []int64
	start := int64(1)
	sub, err := c.Subscribe(ctx, client.SubscribeOptions{Channel: "orders", StartPos: &start}, func(d client.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, d.Pos)
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		pos, err := c.Publish(ctx, "orders", bson.D{{Key: "n", Value: i}})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), pos)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestServer_VersionMismatchRejected(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, ts.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var rerr *client.ResponseError
	require.ErrorAs(t, c.Connect(ctx, "9.9", nil), &rerr)
	assert.Equal(t, protocol.ErrCodeUnsupportedVersion, rerr.Code)
}

func TestServer_MalformedFrameClosesConnection(t *testing.T) {
	ts := startTestServer(t)

	conn, err := net.Dial("tcp", ts.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// an empty document has no frame type
	_, err = conn.Write([]byte{5, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadAll(conn)
	assert.NoError(t, err, "server should close the connection rather than time out")
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.Config) {
		cfg.Protocol.MaxFrameSize = 64
	})

	conn, err := net.Dial("tcp", ts.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0, 1, 0, 0})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadAll(conn)
	assert.NoError(t, err)
}

// wsRecorder collects the responses decoded from WebSocket messages.
type wsRecorder struct {
	protocol.UnimplementedHandler
	responses chan protocol.Response
}

func (r *wsRecorder) HandleResponse(_ context.Context, f protocol.Response) error {
	r.responses <- f
	return nil
}

func dialWebSocket(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", ts.HealthAddr())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResponse(t *testing.T, conn *websocket.Conn, p *protocol.Protocol, rec *wsRecorder) protocol.Response {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		select {
		case f := <-rec.responses:
			return f
		default:
		}
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, mt)
		require.NoError(t, p.Feed(context.Background(), data))
	}
}

func TestServer_WebSocketEndToEnd(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWebSocket(t, ts)
	rec := &wsRecorder{responses: make(chan protocol.Response, 8)}
	p := protocol.New(rec)

	connect, err := protocol.EncodeFrame(protocol.Connect{RequestID: 1, Version: "0.1"})
	require.NoError(t, err)
	// message boundaries are independent of frame boundaries
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, connect[:3]))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, connect[3:]))

	resp := readResponse(t, conn, p, rec)
	assert.Equal(t, int64(1), resp.RequestID)
	assert.True(t, resp.OK)

	create, err := protocol.EncodeFrame(protocol.CreateChannel{RequestID: 2, Name: "orders"})
	require.NoError(t, err)
	ping, err := protocol.EncodeFrame(protocol.Ping{RequestID: 3})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append(create, ping...)))

	resp = readResponse(t, conn, p, rec)
	assert.Equal(t, int64(2), resp.RequestID)
	assert.True(t, resp.OK)
	resp = readResponse(t, conn, p, rec)
	assert.Equal(t, int64(3), resp.RequestID)
	assert.True(t, resp.OK)

	c := ts.dial(t)
	channels, err := c.ListChannels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, channels)
}

func TestServer_WebSocketTextMessageCloses(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWebSocket(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "server should close the connection rather than time out")
	}
}

func TestServer_HealthEndpoints(t *testing.T) {
	ts := startTestServer(t)
	ts.dial(t)

	code, body := ts.get(t, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "0.1", status.Version)
	assert.Equal(t, 1, status.Sessions)

	code, _ = ts.get(t, "/health/live")
	assert.Equal(t, http.StatusOK, code)

	code, body = ts.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `evwire_connections_current{instance_id="test",transport="tcp"} 1`)
	assert.Contains(t, body, `evwire_frames_total{direction="in",instance_id="test",type="CONNECT"}`)
}

func TestServer_HealthDisabled(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.Config) {
		cfg.Health.Enabled = false
	})
	assert.Nil(t, ts.HealthAddr())
	ts.dial(t)
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	ts := startTestServer(t)
	c := ts.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.Shutdown(ctx))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client connection still open after shutdown")
	}
	select {
	case err := <-ts.served:
		assert.NoError(t, err)
		ts.served <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
	assert.False(t, ts.GetHealthChecker().IsReady())

	_, err := net.DialTimeout("tcp", ts.Addr().String(), time.Second)
	assert.Error(t, err)
}
