package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := bson.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payloads := map[string]bson.D{
		"empty": {},
		"scalars": {
			{Key: "s", Value: "text"},
			{Key: "i32", Value: int32(-5)},
			{Key: "i64", Value: int64(1) << 40},
			{Key: "b", Value: true},
			{Key: "f", Value: 2.5},
		},
		"nested": {
			{Key: "z", Value: "first"},
			{Key: "a", Value: bson.D{
				{Key: "inner", Value: bson.D{{Key: "deep", Value: int32(3)}}},
				{Key: "list", Value: bson.A{"x", int32(2), bson.D{{Key: "k", Value: false}}}},
			}},
			{Key: "bin", Value: primitive.Binary{Subtype: 0, Data: []byte{0, 1, 2, 254}}},
		},
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			for _, ft := range FrameTypes() {
				wire, err := Encode(ft, payload)
				require.NoError(t, err)
				assert.Equal(t, uint32(len(wire)), binary.LittleEndian.Uint32(wire[:4]))

				env, err := Decode(wire)
				require.NoError(t, err)
				assert.Equal(t, ft, env.Type)
				assert.Equal(t, len(wire)-4, env.Size)

				doc, err := env.Document()
				require.NoError(t, err)
				assert.Equal(t, payload, doc)
			}
		})
	}
}

func TestEncode_NilPayloadIsEmptyDocument(t *testing.T) {
	wire, err := Encode(FramePing, nil)
	require.NoError(t, err)

	env, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, FramePing, env.Type)
	doc, err := env.Document()
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, doc)
}

func TestEncode_InvalidType(t *testing.T) {
	_, err := Encode(FrameInvalid, bson.D{})
	assert.Error(t, err)
}

func TestEncodeFrame_TypedRecord(t *testing.T) {
	pos := int64(12)
	sub := Subscribe{
		RequestID: 3,
		Channel:   "orders",
		StartPos:  &pos,
		DurableID: "billing",
		Matcher:   `amount>10`,
	}
	wire, err := EncodeFrame(sub)
	require.NoError(t, err)

	env, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, FrameSubscribe, env.Type)

	var got Subscribe
	require.NoError(t, unmarshalPayload(env.Frame, &got))
	assert.Equal(t, sub, got)

	doc, err := env.Document()
	require.NoError(t, err)
	keys := make([]string, 0, len(doc))
	for _, e := range doc {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"rID", "channel", "startPos", "durableID", "matcher"}, keys)
}

func TestEncodeFrame_NilDocumentFields(t *testing.T) {
	frames := []Frame{
		Connect{RequestID: 1},
		Publish{RequestID: 2, Channel: "orders"},
		Recev{SubID: 3, Pos: 4, Timestamp: 5},
		Query{QueryID: 6, Name: "allDocs"},
		QueryResult{QueryID: 6, OK: true, Last: true},
		Command{RequestID: 7, Name: "noop"},
		Response{RequestID: 8, OK: true},
	}
	for _, f := range frames {
		t.Run(f.FrameType().String(), func(t *testing.T) {
			wire, err := EncodeFrame(f)
			require.NoError(t, err)

			env, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, f.FrameType(), env.Type)

			again, err := Encode(env.Type, mustDocument(t, env))
			require.NoError(t, err)
			assert.Equal(t, wire, again)
		})
	}
}

func mustDocument(t *testing.T, env Envelope) bson.D {
	t.Helper()
	doc, err := env.Document()
	require.NoError(t, err)
	return doc
}

func TestDecode_EnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  bson.D
		want error
	}{
		{"missing type", bson.D{{Key: "frame", Value: bson.D{}}}, ErrMissingType},
		{"numeric type", bson.D{{Key: "type", Value: int32(3)}}, ErrInvalidType},
		{"frame not a document", bson.D{{Key: "type", Value: "PING"}, {Key: "frame", Value: "x"}}, ErrInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(mustMarshal(t, tt.doc))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrEnvelope)
		})
	}

	t.Run("corrupt document", func(t *testing.T) {
		wire := mustMarshal(t, bson.D{{Key: "type", Value: "PING"}})
		wire[len(wire)-1] = 0x7f
		_, err := Decode(wire)
		assert.ErrorIs(t, err, ErrMalformedDocument)
	})
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(mustMarshal(t, bson.D{{Key: "type", Value: "BOGUS"}, {Key: "frame", Value: bson.D{}}}))
	require.ErrorIs(t, err, ErrUnknownFrameType)

	var unknown *UnknownFrameTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "BOGUS", unknown.Tag)
}

func TestDecode_MissingFrameIsEmpty(t *testing.T) {
	env, err := Decode(mustMarshal(t, bson.D{{Key: "type", Value: "PING"}}))
	require.NoError(t, err)
	assert.NotNil(t, env.Frame)
	doc, err := env.Document()
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestDecode_LegacyListChannelsTag(t *testing.T) {
	env, err := Decode(mustMarshal(t, bson.D{{Key: "type", Value: "LISTCHANNNELS"}}))
	require.NoError(t, err)
	assert.Equal(t, FrameListChannels, env.Type)
}

func TestFrameType_Tags(t *testing.T) {
	seen := map[string]bool{}
	for _, ft := range FrameTypes() {
		tag := ft.String()
		assert.NotEqual(t, "INVALID", tag)
		assert.False(t, seen[tag], "duplicate tag %s", tag)
		seen[tag] = true

		parsed, ok := ParseFrameType(tag)
		assert.True(t, ok)
		assert.Equal(t, ft, parsed)
	}
	assert.Len(t, seen, 22)
	assert.True(t, FrameRecev.Sized())
	assert.True(t, FrameQueryResult.Sized())
	assert.False(t, FramePublish.Sized())
	assert.Equal(t, "INVALID", FrameInvalid.String())
}
