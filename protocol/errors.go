package protocol

import (
	"errors"
	"fmt"
)

// Error classes. Every error produced by this package wraps exactly one of them.
var (
	ErrFraming          = errors.New("protocol: framing error")
	ErrEnvelope         = errors.New("protocol: envelope error")
	ErrUnknownFrameType = errors.New("protocol: unknown frame type")
)

var (
	ErrFrameTooShort  = fmt.Errorf("%w: length prefix below %d", ErrFraming, lengthPrefixSize)
	ErrFrameTooLarge  = fmt.Errorf("%w: frame exceeds maximum size", ErrFraming)
	ErrTruncatedFrame = fmt.Errorf("%w: stream closed mid-frame", ErrFraming)

	ErrMalformedDocument = fmt.Errorf("%w: malformed document", ErrEnvelope)
	ErrMissingType       = fmt.Errorf("%w: missing type field", ErrEnvelope)
	ErrInvalidType       = fmt.Errorf("%w: type field is not a string", ErrEnvelope)
	ErrInvalidFrame      = fmt.Errorf("%w: frame field is not a document", ErrEnvelope)
	ErrInvalidPayload    = fmt.Errorf("%w: payload does not match frame type", ErrEnvelope)
)

// UnknownFrameTypeError carries the unrecognized tag.
type UnknownFrameTypeError struct {
	Tag string
}

func (e *UnknownFrameTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown frame type %q", e.Tag)
}

func (e *UnknownFrameTypeError) Is(target error) bool {
	return target == ErrUnknownFrameType
}

// UnexpectedFrameError is returned by UnimplementedHandler for frames the
// receiving side never accepts (for example a RECEV sent to the broker).
type UnexpectedFrameError struct {
	Type FrameType
}

func (e *UnexpectedFrameError) Error() string {
	return fmt.Sprintf("protocol: unexpected %s frame", e.Type)
}

// ErrorKind classifies an error surfaced by Protocol to the connection owner.
type ErrorKind int

const (
	KindFraming ErrorKind = iota + 1
	KindEnvelope
	KindUnknownType
	KindHandler
)

func (k ErrorKind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindEnvelope:
		return "envelope"
	case KindUnknownType:
		return "unknown_type"
	case KindHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// Error is what Protocol returns to the connection owner.
type Error struct {
	Kind ErrorKind
	// Type is FrameInvalid for framing errors and undecodable envelopes.
	Type FrameType
	Err  error
}

func (e *Error) Error() string {
	if e.Type.Valid() {
		return fmt.Sprintf("%s error on %s frame: %v", e.Kind, e.Type, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrFraming):
		return KindFraming
	case errors.Is(err, ErrUnknownFrameType):
		return KindUnknownType
	case errors.Is(err, ErrEnvelope):
		return KindEnvelope
	default:
		return KindHandler
	}
}
