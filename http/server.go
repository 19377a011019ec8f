package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/kychandar/evwire/broker"
	"github.com/kychandar/evwire/config"
	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/services"
	"github.com/kychandar/evwire/services/pool"
	slogctx "github.com/veqryn/slog-context"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"

	// WebSocket timeouts
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var ErrTextMessage = errors.New("websocket: text messages are not part of the protocol")

type Server struct {
	broker        *broker.Broker
	writers       services.ConnWriterManager
	metrics       services.MetricsRegistry
	logger        *slog.Logger
	config        *config.Config
	healthChecker *HealthChecker

	listener   net.Listener
	httpServer *http.Server
	httpLn     net.Listener

	// closers force open connections shut on shutdown
	closers  *haxmap.Map[string, func() error]
	connWg   sync.WaitGroup
	stopOnce sync.Once
	stopping chan struct{}
}

func New(
	b *broker.Broker,
	writers services.ConnWriterManager,
	metrics services.MetricsRegistry,
	logger *slog.Logger,
	cfg *config.Config,
) *Server {
	logger = logger.With("component", "server")
	return &Server{
		broker:        b,
		writers:       writers,
		metrics:       metrics,
		logger:        logger,
		config:        cfg,
		healthChecker: NewHealthChecker(logger, cfg.Protocol.Version, b.Sessions),
		closers:       haxmap.New[string, func() error](),
		stopping:      make(chan struct{}),
	}
}

// Listen binds the broker port and, when enabled, the health port. Port 0
// picks a free port; Addr and HealthAddr report what was bound.
func (server *Server) Listen() error {
	addr := net.JoinHostPort(server.config.Server.Host, fmt.Sprint(server.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if server.config.Server.TLS.Enabled {
		tlsConfig, err := server.loadTLSConfig()
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		ln = tls.NewListener(ln, tlsConfig)
		server.logger.Info("TLS enabled for broker listener")
	}
	server.listener = ln

	if !server.config.Health.Enabled {
		return nil
	}
	healthAddr := net.JoinHostPort(server.config.Server.Host, fmt.Sprint(server.config.Health.Port))
	hln, err := net.Listen("tcp", healthAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("listen %s: %w", healthAddr, err)
	}
	server.httpLn = hln
	server.httpServer = &http.Server{
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return nil
}

func (server *Server) routes() http.Handler {
	mux := http.NewServeMux()
	h := server.config.Health
	mux.HandleFunc(h.ReadinessPath, server.healthChecker.ReadinessHandler())
	mux.HandleFunc(h.LivenessPath, server.healthChecker.LivenessHandler())
	mux.Handle(h.MetricsPath, server.metrics.GetHandler())
	mux.HandleFunc(h.WebSocketPath, server.ServeHTTP)
	return mux
}

func (server *Server) Addr() net.Addr {
	return server.listener.Addr()
}

func (server *Server) HealthAddr() net.Addr {
	if server.httpLn == nil {
		return nil
	}
	return server.httpLn.Addr()
}

// Serve accepts connections until ctx is done or Shutdown is called.
func (server *Server) Serve(ctx context.Context) error {
	errs := make(chan error, 1)
	if server.httpServer != nil {
		go func() {
			server.logger.Info("Starting HTTP server", "address", server.httpLn.Addr().String())
			if err := server.httpServer.Serve(server.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("HTTP server error: %w", err)
				server.listener.Close()
			}
		}()
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-server.stopping:
			return
		}
		server.logger.Info("Shutting down broker server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.shutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.logger.Error("broker server shutdown error", "error", err)
		}
	}()

	server.healthChecker.SetReady(true)
	server.logger.Info("Starting broker server", "address", server.listener.Addr().String(), "tls", server.config.Server.TLS.Enabled)

	for {
		conn, err := server.listener.Accept()
		if err != nil {
			select {
			case herr := <-errs:
				return herr
			case <-server.stopping:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		server.connWg.Add(1)
		go func() {
			defer server.connWg.Done()
			server.serveTCP(ctx, conn)
		}()
	}
}

// Start binds and serves.
func (server *Server) Start(ctx context.Context) error {
	if err := server.Listen(); err != nil {
		return err
	}
	return server.Serve(ctx)
}

func (server *Server) shutdownTimeout() time.Duration {
	return time.Duration(server.config.Server.ShutdownTimeout) * time.Second
}

func (server *Server) serveTCP(ctx context.Context, conn net.Conn) {
	w := deadlineWriter{conn: conn}
	server.serveConn(ctx, TransportTCP, w, conn.Close, func(ctx context.Context, p *protocol.Protocol) error {
		return p.ReadFrom(ctx, conn)
	})
}

// serveConn runs one connection: a session fed by read, answering through a
// queued writer over w.
func (server *Server) serveConn(
	ctx context.Context,
	transport string,
	w io.Writer,
	closeConn func() error,
	read func(context.Context, *protocol.Protocol) error,
) {
	connID := uuid.NewString()
	logger := server.logger.With("conn_id", connID, "transport", transport)
	ctx = slogctx.NewCtx(ctx, logger)

	server.metrics.IncConnectionCount(transport)
	defer server.metrics.DecConnectionCount(transport)
	server.closers.Set(connID, closeConn)
	defer server.closers.Del(connID)

	writer := server.writers.Register(connID, w)
	sess := server.broker.NewSession(ctx, connID, writer)
	proto := protocol.New(sess, server.protocolOptions()...)
	logger.Debug("connection opened")

	err := read(ctx, proto)

	sess.Close()
	// flushes frames already queued, such as a failed CONNECT's response
	server.writers.Delete(connID)
	closeConn()

	var perr *protocol.Error
	switch {
	case err == nil, errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		logger.Debug("connection closed")
	case errors.As(err, &perr):
		logger.Warn("connection closed on protocol error", "kind", perr.Kind.String(), "error", err)
	default:
		logger.Info("connection closed", "error", err)
	}
}

func (server *Server) protocolOptions() []protocol.Option {
	p := server.config.Protocol
	opts := []protocol.Option{
		protocol.WithReadBuffer(pool.GetGlobalPool().GetReadBuffer),
		protocol.WithFrameObserver(func(t protocol.FrameType, size int) {
			server.metrics.ObserveFrameIn(t.String(), size)
		}),
	}
	if p.MaxFrameSize > 0 {
		opts = append(opts, protocol.WithMaxFrameSize(p.MaxFrameSize))
	}
	if p.SkipUnknownFrames {
		opts = append(opts, protocol.WithSkipUnknownFrames())
	}
	if p.SkipMalformedFrames {
		opts = append(opts, protocol.WithSkipMalformedFrames())
	}
	return opts
}

// loadTLSConfig loads TLS configuration for the broker listener
func (server *Server) loadTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(server.config.Server.TLS.CertFile, server.config.Server.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
	}, nil
}

// Shutdown stops accepting, closes every open connection and waits for their
// sessions to end.
func (server *Server) Shutdown(ctx context.Context) error {
	var err error
	server.stopOnce.Do(func() {
		server.logger.Info("Initiating graceful shutdown...")
		server.healthChecker.SetReady(false)
		close(server.stopping)

		if server.listener != nil {
			server.listener.Close()
		}
		if server.httpServer != nil {
			if serr := server.httpServer.Shutdown(ctx); serr != nil {
				server.logger.Error("Error shutting down HTTP server", "error", serr)
				err = serr
			}
		}
		server.closers.ForEach(func(_ string, closeConn func() error) bool {
			_ = closeConn()
			return true
		})

		done := make(chan struct{})
		go func() {
			server.connWg.Wait()
			close(done)
		}()
		select {
		case <-done:
			server.logger.Info("Graceful shutdown completed")
		case <-ctx.Done():
			server.logger.Warn("Shutdown timeout exceeded, forcing shutdown")
			err = ctx.Err()
		}
	})
	return err
}

// GetHealthChecker returns the health checker instance
func (server *Server) GetHealthChecker() *HealthChecker {
	return server.healthChecker
}

// deadlineWriter bounds every write so a stalled peer cannot hold its
// connection writer forever.
type deadlineWriter struct {
	conn net.Conn
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}
