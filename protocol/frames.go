package protocol

import "go.mongodb.org/mongo-driver/bson"

// Frame is a typed payload record for one FrameType.
type Frame interface {
	FrameType() FrameType
}

// Connect opens a session. AuthInfo is handed to the authenticator untouched.
type Connect struct {
	RequestID int64    `bson:"rID"`
	AuthInfo  bson.Raw `bson:"authInfo,omitempty"`
	Version   string   `bson:"version"`
}

// Response answers every request-bearing frame except SUBSCRIBE and QUERY.
type Response struct {
	RequestID int64    `bson:"rID"`
	OK        bool     `bson:"ok"`
	ErrCode   ErrCode  `bson:"errCode,omitempty"`
	ErrMsg    string   `bson:"errMsg,omitempty"`
	Result    bson.Raw `bson:"result,omitempty"`
	Binders   []string `bson:"binders,omitempty"`
	Channels  []string `bson:"channels,omitempty"`
	Exists    bool     `bson:"exists,omitempty"`
}

// Publish appends Event to Channel, or buffers it in the open transaction
// when SessID is set.
type Publish struct {
	RequestID int64    `bson:"rID"`
	Channel   string   `bson:"channel"`
	Event     bson.Raw `bson:"event,omitempty"`
	SessID    string   `bson:"sessID,omitempty"`
}

type StartTx struct {
	RequestID int64  `bson:"rID"`
	SessID    string `bson:"sessID"`
}

type CommitTx struct {
	RequestID int64  `bson:"rID"`
	SessID    string `bson:"sessID"`
}

type AbortTx struct {
	RequestID int64  `bson:"rID"`
	SessID    string `bson:"sessID"`
}

// Subscribe creates a subscription. StartPos and StartTimestamp (unix millis)
// are mutually exclusive; with neither, only events appended afterwards are
// delivered unless a durable subscription has a saved position.
type Subscribe struct {
	RequestID      int64  `bson:"rID"`
	Channel        string `bson:"channel"`
	StartPos       *int64 `bson:"startPos,omitempty"`
	StartTimestamp *int64 `bson:"startTimestamp,omitempty"`
	DurableID      string `bson:"durableID,omitempty"`
	Matcher        string `bson:"matcher,omitempty"`
}

type SubResponse struct {
	RequestID int64   `bson:"rID"`
	OK        bool    `bson:"ok"`
	ErrCode   ErrCode `bson:"errCode,omitempty"`
	ErrMsg    string  `bson:"errMsg,omitempty"`
	SubID     int64   `bson:"subID"`
}

type Unsubscribe struct {
	RequestID int64 `bson:"rID"`
	SubID     int64 `bson:"subID"`
}

// SubClose ends a subscription without deleting its durable position.
type SubClose struct {
	SubID   int64   `bson:"subID"`
	ErrCode ErrCode `bson:"errCode,omitempty"`
	ErrMsg  string  `bson:"errMsg,omitempty"`
}

// Recev delivers one event. Timestamp is unix millis.
type Recev struct {
	SubID     int64    `bson:"subID"`
	Timestamp int64    `bson:"timestamp"`
	Pos       int64    `bson:"pos"`
	Event     bson.Raw `bson:"event,omitempty"`
}

// AckEv returns Bytes of delivery credit and records Pos as consumed.
type AckEv struct {
	SubID int64 `bson:"subID"`
	Bytes int64 `bson:"bytes"`
	Pos   int64 `bson:"pos"`
}

type FindByID struct {
	RequestID int64  `bson:"rID"`
	Binder    string `bson:"binder"`
	DocID     string `bson:"docID"`
}

// Query starts a named query. QueryID is chosen by the client.
type Query struct {
	QueryID int64    `bson:"queryID"`
	Name    string   `bson:"name"`
	Params  bson.Raw `bson:"params,omitempty"`
}

// QueryResult carries one result row. Last marks the final frame for QueryID.
type QueryResult struct {
	QueryID int64    `bson:"queryID"`
	OK      bool     `bson:"ok"`
	ErrCode ErrCode  `bson:"errCode,omitempty"`
	ErrMsg  string   `bson:"errMsg,omitempty"`
	Result  bson.Raw `bson:"result,omitempty"`
	Last    bool     `bson:"last"`
}

type QueryAck struct {
	QueryID int64 `bson:"queryID"`
	Bytes   int64 `bson:"bytes"`
}

type Ping struct {
	RequestID int64 `bson:"rID"`
}

type ListBinders struct {
	RequestID int64 `bson:"rID"`
}

type CreateBinder struct {
	RequestID int64  `bson:"rID"`
	Name      string `bson:"name"`
}

type ListChannels struct {
	RequestID int64 `bson:"rID"`
}

type CreateChannel struct {
	RequestID int64  `bson:"rID"`
	Name      string `bson:"name"`
}

type Command struct {
	RequestID int64    `bson:"rID"`
	Name      string   `bson:"name"`
	Command   bson.Raw `bson:"command,omitempty"`
}

func (Connect) FrameType() FrameType       { return FrameConnect }
func (Response) FrameType() FrameType      { return FrameResponse }
func (Publish) FrameType() FrameType       { return FramePublish }
func (StartTx) FrameType() FrameType       { return FrameStartTx }
func (CommitTx) FrameType() FrameType      { return FrameCommitTx }
func (AbortTx) FrameType() FrameType       { return FrameAbortTx }
func (Subscribe) FrameType() FrameType     { return FrameSubscribe }
func (SubResponse) FrameType() FrameType   { return FrameSubResponse }
func (Unsubscribe) FrameType() FrameType   { return FrameUnsubscribe }
func (SubClose) FrameType() FrameType      { return FrameSubClose }
func (Recev) FrameType() FrameType         { return FrameRecev }
func (AckEv) FrameType() FrameType         { return FrameAckEv }
func (FindByID) FrameType() FrameType      { return FrameFindByID }
func (Query) FrameType() FrameType         { return FrameQuery }
func (QueryResult) FrameType() FrameType   { return FrameQueryResult }
func (QueryAck) FrameType() FrameType      { return FrameQueryAck }
func (Ping) FrameType() FrameType          { return FramePing }
func (ListBinders) FrameType() FrameType   { return FrameListBinders }
func (CreateBinder) FrameType() FrameType  { return FrameCreateBinder }
func (ListChannels) FrameType() FrameType  { return FrameListChannels }
func (CreateChannel) FrameType() FrameType { return FrameCreateChannel }
func (Command) FrameType() FrameType       { return FrameCommand }
