package centralconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/otelfleet/apmagent/pkg/storage"
)

const (
	cachePrefix = "central-config"
	fieldETag   = "etag"
	fieldValues = "values"
)

// ErrCorruptCache marks a cached record that can never be restored.
var ErrCorruptCache = errors.New("corrupt cached central configuration")

// Cached is the last central configuration the agent accepted.
type Cached struct {
	ETag   string
	Values map[string]string
}

// Cache persists the accepted central configuration so a restarted agent
// resumes with it instead of the static configuration alone.
type Cache interface {
	Load(ctx context.Context, service, environment string) (Cached, bool, error)
	Save(ctx context.Context, service, environment string, c Cached) error
	Delete(ctx context.Context, service, environment string) error
}

type storageCache struct {
	kv storage.KeyValue[*structpb.Struct]
}

var _ Cache = (*storageCache)(nil)

// NewStorageCache keeps cached configuration in broker under its own prefix.
func NewStorageCache(logger *slog.Logger, broker storage.KVBroker) Cache {
	return &storageCache{
		kv: storage.NewProtoKV[*structpb.Struct](
			logger.With("store", cachePrefix),
			broker.KeyValue(cachePrefix),
		),
	}
}

func cacheKey(service, environment string) string {
	return service + "/" + environment
}

func (c *storageCache) Load(ctx context.Context, service, environment string) (Cached, bool, error) {
	rec, err := c.kv.Get(ctx, cacheKey(service, environment))
	if errors.Is(err, storage.ErrNotFound) {
		return Cached{}, false, nil
	} else if err != nil {
		return Cached{}, false, err
	}
	fields := rec.GetFields()
	cached := Cached{
		ETag:   fields[fieldETag].GetStringValue(),
		Values: map[string]string{},
	}
	for k, v := range fields[fieldValues].GetStructValue().GetFields() {
		cached.Values[k] = v.GetStringValue()
	}
	if cached.ETag == "" {
		return Cached{}, false, fmt.Errorf("%w: %s has no etag", ErrCorruptCache, cacheKey(service, environment))
	}
	return cached, true, nil
}

func (c *storageCache) Save(ctx context.Context, service, environment string, cached Cached) error {
	values := make(map[string]any, len(cached.Values))
	for k, v := range cached.Values {
		values[k] = v
	}
	rec, err := structpb.NewStruct(map[string]any{
		fieldETag:   cached.ETag,
		fieldValues: values,
	})
	if err != nil {
		return err
	}
	return c.kv.Put(ctx, cacheKey(service, environment), rec)
}

func (c *storageCache) Delete(ctx context.Context, service, environment string) error {
	err := c.kv.Delete(ctx, cacheKey(service, environment))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
