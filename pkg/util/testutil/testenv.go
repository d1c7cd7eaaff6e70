package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/stretchr/testify/require"

	"github.com/otelfleet/apmagent/pkg/config"
	"github.com/otelfleet/apmagent/pkg/storage"
	agentpebble "github.com/otelfleet/apmagent/pkg/storage/pebble"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// NewMemBroker opens an in-memory pebble database closed at test cleanup.
func NewMemBroker(t testing.TB) storage.KVBroker {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return agentpebble.NewKVBroker(db)
}

// Options returns valid static options pointed at serverURL.
func Options(serverURL string) config.Options {
	opts := config.DefaultOptions()
	opts.ServiceName = "checkout"
	opts.ServiceVersion = "1.2.3"
	opts.Environment = "prod"
	opts.ServerURLs = []string{serverURL}
	return opts
}

// NewStore wraps opts in a store seeded with a test snapshot.
func NewStore(opts config.Options) *config.Store {
	return config.NewStore(config.NewSnapshot(opts, "test"))
}
