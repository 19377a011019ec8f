package protocol

// ErrCode is the application-level failure code carried in errCode fields.
type ErrCode int32

const (
	ErrCodeNone ErrCode = iota
	ErrCodeAuthFailed
	ErrCodeNotConnected
	ErrCodeAlreadyConnected
	ErrCodeNoSuchChannel
	ErrCodeNoSuchBinder
	ErrCodeTxInProgress
	ErrCodeNoTx
	ErrCodeSessionMismatch
	ErrCodeUnknownSubscription
	ErrCodeNoSuchQuery
	ErrCodeNoSuchCommand
	ErrCodeInvalidRequest
	ErrCodeInternal
	ErrCodeInvalidName
	ErrCodeUnsupportedVersion
)

var errCodeNames = map[ErrCode]string{
	ErrCodeNone:                "none",
	ErrCodeAuthFailed:          "auth_failed",
	ErrCodeNotConnected:        "not_connected",
	ErrCodeAlreadyConnected:    "already_connected",
	ErrCodeNoSuchChannel:       "no_such_channel",
	ErrCodeNoSuchBinder:        "no_such_binder",
	ErrCodeTxInProgress:        "tx_in_progress",
	ErrCodeNoTx:                "no_tx",
	ErrCodeSessionMismatch:     "session_mismatch",
	ErrCodeUnknownSubscription: "unknown_subscription",
	ErrCodeNoSuchQuery:         "no_such_query",
	ErrCodeNoSuchCommand:       "no_such_command",
	ErrCodeInvalidRequest:      "invalid_request",
	ErrCodeInternal:            "internal",
	ErrCodeInvalidName:         "invalid_name",
	ErrCodeUnsupportedVersion:  "unsupported_version",
}

func (c ErrCode) String() string {
	if name, ok := errCodeNames[c]; ok {
		return name
	}
	return "unknown"
}
