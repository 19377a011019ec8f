package broker

import (
	"context"

	set "github.com/duke-git/lancet/v2/datastructure/set"
	"github.com/kychandar/evwire/services"
	"go.mongodb.org/mongo-driver/bson"
)

type allowAll struct{}

// AllowAll accepts every CONNECT.
func AllowAll() services.Authenticator {
	return allowAll{}
}

func (allowAll) Authenticate(context.Context, []byte) error {
	return nil
}

type tokenAuthenticator struct {
	tokens set.Set[string]
}

// NewTokenAuthenticator accepts a CONNECT whose authInfo carries a "token"
// string from tokens.
func NewTokenAuthenticator(tokens []string) services.Authenticator {
	return &tokenAuthenticator{tokens: set.New(tokens...)}
}

func (a *tokenAuthenticator) Authenticate(_ context.Context, authInfo []byte) error {
	if len(authInfo) == 0 {
		return services.ErrAuthFailed
	}
	token, ok := bson.Raw(authInfo).Lookup("token").StringValueOK()
	if !ok || !a.tokens.Contain(token) {
		return services.ErrAuthFailed
	}
	return nil
}
