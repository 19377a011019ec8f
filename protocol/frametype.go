package protocol

// FrameType is the closed set of frame kinds carried in the envelope's type field.
type FrameType uint8

const (
	FrameInvalid FrameType = iota
	FrameConnect
	FrameResponse
	FramePublish
	FrameStartTx
	FrameCommitTx
	FrameAbortTx
	FrameSubscribe
	FrameSubResponse
	FrameUnsubscribe
	FrameSubClose
	FrameRecev
	FrameAckEv
	FrameFindByID
	FrameQuery
	FrameQueryResult
	FrameQueryAck
	FramePing
	FrameListBinders
	FrameCreateBinder
	FrameListChannels
	FrameCreateChannel
	FrameCommand

	frameTypeCount
)

var frameTags = [frameTypeCount]string{
	FrameConnect:       "CONNECT",
	FrameResponse:      "RESPONSE",
	FramePublish:       "PUB",
	FrameStartTx:       "STARTTX",
	FrameCommitTx:      "COMMITTX",
	FrameAbortTx:       "ABORTTX",
	FrameSubscribe:     "SUBSCRIBE",
	FrameSubResponse:   "SUBRESPONSE",
	FrameUnsubscribe:   "UNSUBSCRIBE",
	FrameSubClose:      "SUBCLOSE",
	FrameRecev:         "RECEV",
	FrameAckEv:         "ACKEV",
	FrameFindByID:      "FINDBYID",
	FrameQuery:         "QUERY",
	FrameQueryResult:   "QUERYRESULT",
	FrameQueryAck:      "QUERYACK",
	FramePing:          "PING",
	FrameListBinders:   "LISTBINDERS",
	FrameCreateBinder:  "CREATEBINDER",
	FrameListChannels:  "LISTCHANNELS",
	FrameCreateChannel: "CREATECHANNEL",
	FrameCommand:       "COMMAND",
}

// legacyListChannelsTag is the misspelled tag older peers send for LISTCHANNELS.
const legacyListChannelsTag = "LISTCHANNNELS"

var tagLookup = func() map[string]FrameType {
	m := make(map[string]FrameType, frameTypeCount)
	for t := FrameConnect; t < frameTypeCount; t++ {
		m[frameTags[t]] = t
	}
	m[legacyListChannelsTag] = FrameListChannels
	return m
}()

// ParseFrameType maps a wire tag to its FrameType.
func ParseFrameType(tag string) (FrameType, bool) {
	t, ok := tagLookup[tag]
	return t, ok
}

// FrameTypes returns every valid frame type in declaration order.
func FrameTypes() []FrameType {
	types := make([]FrameType, 0, frameTypeCount-1)
	for t := FrameConnect; t < frameTypeCount; t++ {
		types = append(types, t)
	}
	return types
}

func (t FrameType) Valid() bool {
	return t > FrameInvalid && t < frameTypeCount
}

// String returns the wire tag.
func (t FrameType) String() string {
	if !t.Valid() {
		return "INVALID"
	}
	return frameTags[t]
}

// Sized reports whether the handler for t receives the wire body size.
func (t FrameType) Sized() bool {
	return t == FrameRecev || t == FrameQueryResult
}
