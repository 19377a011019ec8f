package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/kychandar/evwire/protocol"
)

// Tx is an open transaction. Events published through it become visible to
// subscribers only on Commit.
type Tx struct {
	c      *Client
	sessID string
}

func (c *Client) BeginTx(ctx context.Context) (*Tx, error) {
	sessID := uuid.NewString()
	_, err := c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.StartTx{RequestID: rID, SessID: sessID}
	})
	if err != nil {
		return nil, err
	}
	return &Tx{c: c, sessID: sessID}, nil
}

func (tx *Tx) ID() string {
	return tx.sessID
}

func (tx *Tx) Publish(ctx context.Context, channel string, event any) error {
	_, err := tx.c.publish(ctx, channel, event, tx.sessID)
	return err
}

func (tx *Tx) Commit(ctx context.Context) error {
	_, err := tx.c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.CommitTx{RequestID: rID, SessID: tx.sessID}
	})
	return err
}

func (tx *Tx) Abort(ctx context.Context) error {
	_, err := tx.c.call(ctx, func(rID int64) protocol.Frame {
		return protocol.AbortTx{RequestID: rID, SessID: tx.sessID}
	})
	return err
}
