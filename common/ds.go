package common

import "time"

// OutboundMsg is one encoded frame waiting in a connection's write queue.
type OutboundMsg struct {
	Enqueued  time.Time
	FrameType string
	Data      []byte
}
