// Package pebble implements the storage interfaces on a pebble database.
package pebble

import (
	"context"
	"errors"
	"slices"

	"github.com/cockroachdb/pebble/v2"

	"github.com/otelfleet/apmagent/pkg/storage"
)

const separator = '/'

// KVBroker hands out prefixed views over one database.
type KVBroker struct {
	db     *pebble.DB
}

var _ storage.KVBroker = (*KVBroker)(nil)

func NewKVBroker(db *pebble.DB) *KVBroker {
	return &KVBroker{db: db}
}

// KeyValue returns a view whose keys are stored as "<prefix>/<key>".
func (b *KVBroker) KeyValue(prefix string) storage.KV {
	return &prefixedKV{db: b.db, prefix: append([]byte(prefix), separator)}
}

type prefixedKV struct {
	db     *pebble.DB
	// prefix starts every key of the view.
	prefix []byte
}

var _ storage.KV = (*prefixedKV)(nil)

func (k *prefixedKV) key(key string) []byte {
	return append(slices.Clone(k.prefix), key...)
}

func (k *prefixedKV) Put(_ context.Context, key string, value []byte) error {
	return k.db.Set(k.key(key), value, pebble.Sync)
}

func (k *prefixedKV) Get(_ context.Context, key string) ([]byte, error) {
	data, closer, err := k.db.Get(k.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()
	// data is only valid until closer is closed
	return slices.Clone(data), nil
}

func (k *prefixedKV) Delete(_ context.Context, key string) error {
	return k.db.Delete(k.key(key), pebble.Sync)
}
