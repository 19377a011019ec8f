package protocol

import "encoding/binary"

const (
	lengthPrefixSize = 4

	// DefaultMaxFrameSize bounds the body of a single frame.
	DefaultMaxFrameSize = 16 * 1024 * 1024
)

type phase uint8

const (
	awaitingLength phase = iota
	awaitingBody
)

// Framer splits an arbitrarily chunked byte stream into complete wire frames.
// Each emitted frame still carries its 4-byte length prefix so the codec can
// parse it as a self-describing document. A Framer belongs to one connection
// and is not safe for concurrent use.
type Framer struct {
	maxFrameSize int

	phase   phase
	header  [lengthPrefixSize]byte
	headerN int
	frame   []byte
	filled  int
	err     error
}

func NewFramer(maxFrameSize int) *Framer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Framer{maxFrameSize: maxFrameSize}
}

// Feed consumes one chunk and returns the frames it completed, in order. On a
// framing violation the frames completed before the violation are returned
// along with the error, and every later call returns the same error.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	var frames [][]byte
	for len(chunk) > 0 {
		switch f.phase {
		case awaitingLength:
			n := copy(f.header[f.headerN:], chunk)
			f.headerN += n
			chunk = chunk[n:]
			if f.headerN < lengthPrefixSize {
				continue
			}
			if err := f.startBody(); err != nil {
				f.err = err
				return frames, err
			}
			if len(f.frame) == lengthPrefixSize {
				frames = append(frames, f.emit())
			}
		case awaitingBody:
			n := copy(f.frame[f.filled:], chunk)
			f.filled += n
			chunk = chunk[n:]
			if f.filled == len(f.frame) {
				frames = append(frames, f.emit())
			}
		}
	}
	return frames, nil
}

// Close reports whether the stream ended cleanly on a frame boundary.
func (f *Framer) Close() error {
	if f.err != nil {
		return f.err
	}
	if f.phase != awaitingLength || f.headerN != 0 {
		f.err = ErrTruncatedFrame
		return f.err
	}
	return nil
}

// Buffered returns the number of bytes held for the frame in progress.
func (f *Framer) Buffered() int {
	if f.phase == awaitingBody {
		return f.filled
	}
	return f.headerN
}

func (f *Framer) startBody() error {
	total := binary.LittleEndian.Uint32(f.header[:])
	if total < lengthPrefixSize {
		return ErrFrameTooShort
	}
	bodyLen := uint64(total) - lengthPrefixSize
	if bodyLen > uint64(f.maxFrameSize) {
		return ErrFrameTooLarge
	}
	f.frame = make([]byte, total)
	copy(f.frame, f.header[:])
	f.filled = lengthPrefixSize
	f.phase = awaitingBody
	return nil
}

func (f *Framer) emit() []byte {
	out := f.frame
	f.frame = nil
	f.filled = 0
	f.headerN = 0
	f.phase = awaitingLength
	return out
}
