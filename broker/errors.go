package broker

import (
	"errors"

	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/protocol"
	"github.com/kychandar/evwire/services"
	"github.com/kychandar/evwire/session"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNoSuchQuery        = errors.New("no such query")
	ErrNoSuchCommand      = errors.New("no such command")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

var errCodes = []struct {
	err  error
	code protocol.ErrCode
}{
	{services.ErrAuthFailed, protocol.ErrCodeAuthFailed},
	{session.ErrNotConnected, protocol.ErrCodeNotConnected},
	{session.ErrAlreadyConnected, protocol.ErrCodeAlreadyConnected},
	{services.ErrNoSuchChannel, protocol.ErrCodeNoSuchChannel},
	{services.ErrNoSuchBinder, protocol.ErrCodeNoSuchBinder},
	{session.ErrTxInProgress, protocol.ErrCodeTxInProgress},
	{session.ErrNoTx, protocol.ErrCodeNoTx},
	{session.ErrSessionMismatch, protocol.ErrCodeSessionMismatch},
	{session.ErrUnknownSubscription, protocol.ErrCodeUnknownSubscription},
	{session.ErrUnknownQuery, protocol.ErrCodeNoSuchQuery},
	{ErrNoSuchQuery, protocol.ErrCodeNoSuchQuery},
	{ErrNoSuchCommand, protocol.ErrCodeNoSuchCommand},
	{ErrInvalidRequest, protocol.ErrCodeInvalidRequest},
	{common.ErrInvalidName, protocol.ErrCodeInvalidName},
	{ErrUnsupportedVersion, protocol.ErrCodeUnsupportedVersion},
}

// errCode maps err to the code sent to the client. Anything unrecognised is
// an internal error.
func errCode(err error) protocol.ErrCode {
	if err == nil {
		return protocol.ErrCodeNone
	}
	for _, e := range errCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return protocol.ErrCodeInternal
}
