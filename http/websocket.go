package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kychandar/evwire/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServeHTTP carries the broker protocol over a WebSocket. Each binary
// message is a chunk of the frame stream; message boundaries need not match
// frame boundaries.
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		server.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	server.connWg.Add(1)
	defer server.connWg.Done()

	if limit := server.config.Protocol.MaxFrameSize; limit > 0 {
		conn.SetReadLimit(int64(limit) + 4)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the request context ends with the handler; the session must not
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go keepAlive(ctx, conn)

	server.serveConn(ctx, TransportWebSocket, wsWriter{conn: conn}, conn.Close, func(ctx context.Context, p *protocol.Protocol) error {
		return readWebSocket(ctx, conn, p)
	})
}

func readWebSocket(ctx context.Context, conn *websocket.Conn, p *protocol.Protocol) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return p.Close()
			}
			return err
		}
		if mt != websocket.BinaryMessage {
			return ErrTextMessage
		}
		if err := p.Feed(ctx, data); err != nil {
			return err
		}
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// wsWriter sends each queued frame as one binary message. Only the
// connection's writer goroutine calls it.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return 0, err
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
