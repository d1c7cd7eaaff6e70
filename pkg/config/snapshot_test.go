package config_test

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelfleet/apmagent/pkg/config"
)

func baseOptions() config.Options {
	opts := config.DefaultOptions()
	opts.ServiceName = "checkout"
	opts.Environment = "prod"
	opts.TransactionSampleRate = 0.8
	return opts
}

func TestSnapshotFallsBackToBase(t *testing.T) {
	base := config.NewSnapshot(baseOptions(), "config.yaml")
	d, err := config.DeltaFromValues(map[string]string{config.KeyTransactionSampleRate: "0.5"}, `"abc"`)
	require.NoError(t, err)

	snap := base.WithDelta(d)
	assert.Equal(t, 0.5, snap.TransactionSampleRate())
	assert.Equal(t, base.CaptureBody(), snap.CaptureBody())
	assert.Equal(t, base.StackTraceLimit(), snap.StackTraceLimit())
	assert.Equal(t, base.SanitizeFieldNames(), snap.SanitizeFieldNames())
	assert.Equal(t, "checkout", snap.ServiceName())
	assert.Equal(t, `"abc"`, snap.ETag())
	assert.Equal(t, `config.yaml + central configuration (etag "abc")`, snap.Description())

	assert.Equal(t, 0.8, base.TransactionSampleRate())
	assert.Empty(t, base.ETag())
	assert.Equal(t, "config.yaml", base.Description())
}

func TestSnapshotNeverNests(t *testing.T) {
	base := config.NewSnapshot(baseOptions(), "")
	first, err := config.DeltaFromValues(map[string]string{
		config.KeyTransactionSampleRate: "0.5",
		config.KeyCaptureHeaders:        "false",
	}, "1")
	require.NoError(t, err)
	second, err := config.DeltaFromValues(map[string]string{config.KeyTransactionSampleRate: "0.1"}, "2")
	require.NoError(t, err)

	snap := base.WithDelta(first).WithDelta(second)
	assert.Equal(t, 0.1, snap.TransactionSampleRate())
	// the first delta is replaced, not layered
	assert.True(t, snap.CaptureHeaders())
	assert.Same(t, snap.Delta(), second)
	assert.Nil(t, snap.Base().Delta())
	assert.Equal(t, config.StaticDescription, snap.Base().Description())
}

func TestSnapshotCopiesOptions(t *testing.T) {
	opts := baseOptions()
	snap := config.NewSnapshot(opts, "")
	opts.SanitizeFieldNames[0] = "changed"
	assert.NotEqual(t, "changed", snap.SanitizeFieldNames()[0])

	names := snap.SanitizeFieldNames()
	names[0] = "mutated"
	assert.NotEqual(t, "mutated", snap.SanitizeFieldNames()[0])
}

func TestSnapshotEmptyListOverride(t *testing.T) {
	base := config.NewSnapshot(baseOptions(), "")
	d, err := config.DeltaFromValues(map[string]string{config.KeyTransactionIgnoreURLs: ""}, "e")
	require.NoError(t, err)
	assert.NotEmpty(t, base.TransactionIgnoreURLs())
	assert.Empty(t, base.WithDelta(d).TransactionIgnoreURLs())
}

func TestStore(t *testing.T) {
	base := config.NewSnapshot(baseOptions(), "")
	store := config.NewStore(base)
	assert.Same(t, base, store.Current())
	assert.Equal(t, slog.LevelError, store.Level())

	store.Set(nil)
	assert.Same(t, base, store.Current())

	d, err := config.DeltaFromValues(map[string]string{config.KeyLogLevel: "debug"}, "e")
	require.NoError(t, err)
	store.Set(base.WithDelta(d))
	assert.Equal(t, slog.LevelDebug, store.Level())
}

func TestStoreConcurrentReaders(t *testing.T) {
	base := config.NewSnapshot(baseOptions(), "")
	store := config.NewStore(base)
	d, err := config.DeltaFromValues(map[string]string{config.KeyTransactionSampleRate: "0.5"}, "e")
	require.NoError(t, err)
	next := base.WithDelta(d)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				rate := store.Current().TransactionSampleRate()
				assert.Contains(t, []float64{0.8, 0.5}, rate)
			}
		}()
	}
	for range 100 {
		store.Set(next)
		store.Set(base)
	}
	wg.Wait()
}
