package broker

import (
	"context"
	"fmt"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/evwire/services"
	"go.mongodb.org/mongo-driver/bson"
)

// QueryFunc produces the rows of a named query by calling emit once per
// document, in order.
type QueryFunc func(ctx context.Context, params bson.Raw, emit func(doc bson.Raw) error) error

// CommandFunc runs a named command and returns its result document, which
// may be nil.
type CommandFunc func(ctx context.Context, command bson.Raw) (bson.Raw, error)

type registry[F any] struct {
	entries *haxmap.Map[string, F]
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{entries: haxmap.New[string, F]()}
}

func (r *registry[F]) set(name string, fn F) {
	r.entries.Set(name, fn)
}

func (r *registry[F]) get(name string) (F, bool) {
	return r.entries.Get(name)
}

// allDocsQuery streams every document of params.binder ordered by ID.
func allDocsQuery(binders services.BinderStore) QueryFunc {
	return func(ctx context.Context, params bson.Raw, emit func(bson.Raw) error) error {
		binder, err := stringField(params, "binder")
		if err != nil {
			return err
		}
		docs, err := binders.Scan(ctx, binder)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := emit(d.Data); err != nil {
				return err
			}
		}
		return nil
	}
}

// putDocumentCommand stores command.doc under command.binder/command.docID.
func putDocumentCommand(binders services.BinderStore) CommandFunc {
	return func(ctx context.Context, command bson.Raw) (bson.Raw, error) {
		binder, err := stringField(command, "binder")
		if err != nil {
			return nil, err
		}
		docID, err := stringField(command, "docID")
		if err != nil {
			return nil, err
		}
		doc, ok := lookup(command, "doc").DocumentOK()
		if !ok {
			return nil, fmt.Errorf("%w: doc must be a document", ErrInvalidRequest)
		}
		return nil, binders.Put(ctx, binder, docID, doc)
	}
}

// publishCommand appends command.event to command.channel and returns the
// assigned position.
func publishCommand(log services.ChannelLog) CommandFunc {
	return func(ctx context.Context, command bson.Raw) (bson.Raw, error) {
		channel, err := stringField(command, "channel")
		if err != nil {
			return nil, err
		}
		event, ok := lookup(command, "event").DocumentOK()
		if !ok {
			return nil, fmt.Errorf("%w: event must be a document", ErrInvalidRequest)
		}
		pos, err := log.Append(ctx, channel, event)
		if err != nil {
			return nil, err
		}
		return bson.Marshal(bson.D{{Key: "pos", Value: pos[0]}})
	}
}

func lookup(doc bson.Raw, key string) bson.RawValue {
	if len(doc) == 0 {
		return bson.RawValue{}
	}
	v, err := doc.LookupErr(key)
	if err != nil {
		return bson.RawValue{}
	}
	return v
}

func stringField(doc bson.Raw, key string) (string, error) {
	s, ok := lookup(doc, key).StringValueOK()
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidRequest, key)
	}
	return s, nil
}
