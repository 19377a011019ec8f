package connwriter

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/services"
)

const DefaultQueueSize = 1024

// connWriter serializes every outbound frame of one connection through a
// dedicated goroutine, so frames reach the wire in Write order.
type connWriter struct {
	w       io.Writer
	writeCh chan common.OutboundMsg
	closeCh chan struct{}
	doneCh  chan struct{}
	metrics services.MetricsRegistry

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newConnWriter(w io.Writer, queueSize int, metrics services.MetricsRegistry) *connWriter {
	cw := &connWriter{
		w:       w,
		writeCh: make(chan common.OutboundMsg, queueSize),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		metrics: metrics,
	}
	go cw.writerLoop()
	return cw
}

// writerLoop handles all writes for a single connection
func (cw *connWriter) writerLoop() {
	defer close(cw.doneCh)
	for {
		select {
		case msg := <-cw.writeCh:
			if !cw.write(msg) {
				return
			}
		case <-cw.closeCh:
			// flush what was queued before Close
			for {
				select {
				case msg := <-cw.writeCh:
					if !cw.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (cw *connWriter) write(msg common.OutboundMsg) bool {
	if _, err := cw.w.Write(msg.Data); err != nil {
		cw.fail(fmt.Errorf("write %s frame: %w", msg.FrameType, err))
		return false
	}
	cw.metrics.ObserveWriteLatency(msg.Enqueued)
	cw.metrics.ObserveFrameOut(msg.FrameType, len(msg.Data))
	return true
}

func (cw *connWriter) fail(err error) {
	cw.mu.Lock()
	if cw.err == nil {
		cw.err = err
	}
	cw.mu.Unlock()
}

func (cw *connWriter) failure() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.err
}

// Write queues msg, blocking while the queue is full. It fails once the
// writer is closed or the underlying connection has failed.
func (cw *connWriter) Write(ctx context.Context, msg common.OutboundMsg) error {
	if err := cw.failure(); err != nil {
		return err
	}
	select {
	case <-cw.closeCh:
		return services.ErrWriterClosed
	case <-cw.doneCh:
		if err := cw.failure(); err != nil {
			return err
		}
		return services.ErrWriterClosed
	default:
	}
	select {
	case cw.writeCh <- msg:
		return nil
	case <-cw.closeCh:
		return services.ErrWriterClosed
	case <-cw.doneCh:
		return services.ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued frames and stops the writer goroutine.
func (cw *connWriter) Close() error {
	cw.closeOnce.Do(func() {
		close(cw.closeCh)
	})
	<-cw.doneCh
	return cw.failure()
}

// manager is a thread-safe registry of connection writers.
type manager struct {
	connections *haxmap.Map[string, *connWriter]
	queueSize   int
	metrics     services.MetricsRegistry
}

func NewConnWriterManager(queueSize int, metrics services.MetricsRegistry) services.ConnWriterManager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &manager{
		connections: haxmap.New[string, *connWriter](),
		queueSize:   queueSize,
		metrics:     metrics,
	}
}

// Register starts a writer goroutine for connID.
func (m *manager) Register(connID string, w io.Writer) services.FrameWriter {
	cw := newConnWriter(w, m.queueSize, m.metrics)
	m.connections.Set(connID, cw)
	return cw
}

func (m *manager) Get(connID string) (services.FrameWriter, bool) {
	cw, ok := m.connections.Get(connID)
	if !ok {
		return nil, false
	}
	return cw, true
}

// Delete closes the writer of connID and forgets it.
func (m *manager) Delete(connID string) {
	if cw, ok := m.connections.Get(connID); ok {
		m.connections.Del(connID)
		cw.Close()
	}
}

func (m *manager) Len() int {
	return int(m.connections.Len())
}

func (m *manager) CloseAll() {
	var ids []string
	m.connections.ForEach(func(id string, _ *connWriter) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		m.Delete(id)
	}
}
