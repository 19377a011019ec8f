package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/kychandar/evwire/client"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

type clientFlags struct {
	addr    string
	token   string
	version string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:7451", "broker address")
	cmd.Flags().StringVar(&f.token, "token", "", "auth token sent with CONNECT")
	cmd.Flags().StringVar(&f.version, "protocol-version", "", "protocol version sent with CONNECT")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "dial and connect timeout")
}

// connect dials the broker and completes the CONNECT handshake.
func (f *clientFlags) connect(ctx context.Context) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	c, err := client.Dial(ctx, f.addr)
	if err != nil {
		return nil, err
	}
	var authInfo any
	if f.token != "" {
		authInfo = bson.D{{Key: "token", Value: f.token}}
	}
	if err := c.Connect(ctx, f.version, authInfo); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

// parseDocument reads a document written as relaxed extended JSON.
func parseDocument(s string) (bson.Raw, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
		return nil, fmt.Errorf("invalid document %q: %w", s, err)
	}
	return bson.Marshal(doc)
}
