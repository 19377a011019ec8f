package valkey

import (
	"context"
	"fmt"
	"sort"

	"github.com/kychandar/evwire/common"
	"github.com/kychandar/evwire/config"
	"github.com/kychandar/evwire/services"
	"github.com/valkey-io/valkey-go"
)

// ValkeyStore keeps binders as hashes of docID to BSON document, the binder
// names in a set, and durable subscription positions as plain keys.
type ValkeyStore struct {
	client valkey.Client
}

var (
	_ services.BinderStore  = (*ValkeyStore)(nil)
	_ services.DurableStore = (*ValkeyStore)(nil)
)

// NewValkeyStore returns a new instance.
func NewValkeyStore(config *config.Config) (*ValkeyStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  config.Valkey.Addr,
		DisableCache: config.Valkey.DisableCache,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &ValkeyStore{client: client}, nil
}

// Close gracefully shuts down the Valkey client.
func (c *ValkeyStore) Close() {
	c.client.Close()
}

func (c *ValkeyStore) CreateBinder(ctx context.Context, name string) (bool, error) {
	cmd := c.client.B().Sadd().Key(common.BindersSetKey).Member(name).Build()
	added, err := c.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, err
	}
	return added == 0, nil
}

func (c *ValkeyStore) ListBinders(ctx context.Context) ([]string, error) {
	cmd := c.client.B().Smembers().Key(common.BindersSetKey).Build()
	binders, err := c.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, err
	}
	sort.Strings(binders)
	return binders, nil
}

func (c *ValkeyStore) requireBinder(ctx context.Context, binder string) error {
	cmd := c.client.B().Sismember().Key(common.BindersSetKey).Member(binder).Build()
	ok, err := c.client.Do(ctx, cmd).AsBool()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", services.ErrNoSuchBinder, binder)
	}
	return nil
}

func (c *ValkeyStore) Put(ctx context.Context, binder, docID string, doc []byte) error {
	if err := c.requireBinder(ctx, binder); err != nil {
		return err
	}
	cmd := c.client.B().Hset().Key(common.BinderKey(binder)).FieldValue().FieldValue(docID, valkey.BinaryString(doc)).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *ValkeyStore) Get(ctx context.Context, binder, docID string) ([]byte, error) {
	if err := c.requireBinder(ctx, binder); err != nil {
		return nil, err
	}
	cmd := c.client.B().Hget().Key(common.BinderKey(binder)).Field(docID).Build()
	doc, err := c.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, fmt.Errorf("%w: %s/%s", services.ErrNoSuchDocument, binder, docID)
		}
		return nil, err
	}
	return doc, nil
}

func (c *ValkeyStore) Scan(ctx context.Context, binder string) ([]services.Document, error) {
	if err := c.requireBinder(ctx, binder); err != nil {
		return nil, err
	}
	cmd := c.client.B().Hgetall().Key(common.BinderKey(binder)).Build()
	fields, err := c.client.Do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, err
	}
	docs := make([]services.Document, 0, len(fields))
	for id, data := range fields {
		docs = append(docs, services.Document{ID: id, Data: []byte(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (c *ValkeyStore) SavePosition(ctx context.Context, channel, durableID string, pos int64) error {
	cmd := c.client.B().Set().Key(common.DurableKey(channel, durableID)).Value(fmt.Sprint(pos)).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *ValkeyStore) LoadPosition(ctx context.Context, channel, durableID string) (int64, bool, error) {
	cmd := c.client.B().Get().Key(common.DurableKey(channel, durableID)).Build()
	pos, err := c.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return pos, true, nil
}

func (c *ValkeyStore) DeletePosition(ctx context.Context, channel, durableID string) error {
	cmd := c.client.B().Del().Key(common.DurableKey(channel, durableID)).Build()
	return c.client.Do(ctx, cmd).Error()
}
