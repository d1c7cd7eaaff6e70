// Package storage runs the agent's embedded key/value database as a service.
package storage

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/grafana/dskit/services"

	"github.com/otelfleet/apmagent/pkg/storage"
	agentpebble "github.com/otelfleet/apmagent/pkg/storage/pebble"
)

// InMemory opens the database on an in-memory filesystem.
const InMemory = ":memory:"

type StorageService struct {
	logger *slog.Logger
	db     *pebble.DB
	broker storage.KVBroker

	services.Service
	storagePath string
}

var _ services.Service = (*StorageService)(nil)
var _ storage.KVBroker = (*StorageService)(nil)

func NewStorageService(
	logger *slog.Logger,
	storagePath string,
) (*StorageService, error) {
	opts := &pebble.Options{}
	dir := storagePath
	if storagePath == InMemory {
		opts.FS = vfs.NewMem()
		dir = ""
	}
	kvDb, err := pebble.Open(dir, opts)
	if err != nil {
		logger.With("err", err, "path", storagePath).Error("failed to start KV store")
		return nil, err
	}
	s := &StorageService{
		logger:      logger,
		storagePath: storagePath,
		db:          kvDb,
		broker:      agentpebble.NewKVBroker(kvDb),
	}

	s.Service = services.NewBasicService(nil, s.running, s.stopping).WithName("storage")
	return s, nil
}

func (s *StorageService) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *StorageService) stopping(_ error) error {
	if s.db == nil {
		return nil
	}
	s.logger.With("path", s.storagePath).Debug("closing KV store")
	return s.db.Close()
}

func (s *StorageService) KeyValue(prefix string) storage.KV {
	return s.broker.KeyValue(prefix)
}
