package protocol

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	typeField  = "type"
	frameField = "frame"
)

// emptyDocument is the encoding of {}.
var emptyDocument = bson.Raw{5, 0, 0, 0, 0}

// Envelope is a decoded {type, frame} wrapper. Frame is never nil.
type Envelope struct {
	Type  FrameType
	Frame bson.Raw
	// Size is the wire body length, excluding the 4-byte length prefix.
	Size int
}

// Document decodes the payload into an ordered document.
func (e Envelope) Document() (bson.D, error) {
	var d bson.D
	if err := bson.Unmarshal(e.Frame, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if d == nil {
		d = bson.D{}
	}
	return d, nil
}

// Encode wraps payload in an envelope tagged with t and serializes it. The
// result starts with its own little-endian length, counting the prefix.
func Encode(t FrameType, payload bson.D) ([]byte, error) {
	if payload == nil {
		payload = bson.D{}
	}
	return encodeEnvelope(t, payload)
}

// EncodeFrame serializes a typed frame record.
func EncodeFrame(f Frame) ([]byte, error) {
	return encodeEnvelope(f.FrameType(), f)
}

func encodeEnvelope(t FrameType, payload any) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("protocol: cannot encode frame type %d", t)
	}
	b, err := bson.Marshal(bson.D{
		{Key: typeField, Value: t.String()},
		{Key: frameField, Value: payload},
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s frame: %w", t, err)
	}
	return b, nil
}

// Decode parses a complete wire frame as produced by Framer.
func Decode(wire []byte) (Envelope, error) {
	doc := bson.Raw(wire)
	if err := doc.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	env := Envelope{Frame: emptyDocument, Size: len(wire) - lengthPrefixSize}

	typeValue, err := doc.LookupErr(typeField)
	if err != nil {
		return env, ErrMissingType
	}
	tag, ok := typeValue.StringValueOK()
	if !ok {
		return env, ErrInvalidType
	}

	// doc is validated, so a lookup error can only mean the field is absent.
	if frameValue, err := doc.LookupErr(frameField); err == nil {
		frame, ok := frameValue.DocumentOK()
		if !ok {
			return env, ErrInvalidFrame
		}
		env.Frame = frame
	}

	t, ok := ParseFrameType(tag)
	if !ok {
		return env, &UnknownFrameTypeError{Tag: tag}
	}
	env.Type = t
	return env, nil
}

func unmarshalPayload(raw bson.Raw, v any) error {
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
