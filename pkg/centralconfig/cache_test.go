package centralconfig_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelfleet/apmagent/pkg/centralconfig"
	"github.com/otelfleet/apmagent/pkg/util/testutil"
)

func TestStorageCache(t *testing.T) {
	ctx := context.Background()
	cache := centralconfig.NewStorageCache(slog.Default(), testutil.NewMemBroker(t))

	_, ok, err := cache.Load(ctx, "checkout", "prod")
	require.NoError(t, err)
	assert.False(t, ok)

	want := centralconfig.Cached{ETag: `"abc"`, Values: map[string]string{"transaction_sample_rate": "0.5"}}
	require.NoError(t, cache.Save(ctx, "checkout", "prod", want))

	got, ok, err := cache.Load(ctx, "checkout", "prod")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cached configuration mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = cache.Load(ctx, "checkout", "staging")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPollerPersistsAndRestores(t *testing.T) {
	cache := centralconfig.NewStorageCache(slog.Default(), testutil.NewMemBroker(t))

	first := newHarness(t, cache, testutil.Response{
		Status: http.StatusOK,
		ETag:   `"abc"`,
		Body:   `{"transaction_sample_rate":"0.5","unknown_option":"x"}`,
	})
	first.poller.Poll(context.Background())

	cached, ok, err := cache.Load(context.Background(), "checkout", "prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"abc"`, cached.ETag)
	assert.Equal(t, map[string]string{"transaction_sample_rate": "0.5"}, cached.Values)

	// a restarted agent resumes from the cache and revalidates it
	second := newHarness(t, cache, testutil.Response{Status: http.StatusNotModified})
	assert.Equal(t, `"abc"`, second.poller.ETag())
	restored := second.logs.Find("restoring cached central configuration")
	require.Len(t, restored, 1)
	assert.Equal(t, `"abc"`, restored[0].Attrs["etag"])
	assert.Equal(t, 0.5, second.store.Current().TransactionSampleRate())

	second.poller.Poll(context.Background())
	req := second.server.Requests()
	require.Len(t, req, 1)
	assert.Equal(t, `"abc"`, req[0].IfNoneMatch)
	assert.Equal(t, 0.5, second.store.Current().TransactionSampleRate())
}

type brokenCache struct{}

func (brokenCache) Load(context.Context, string, string) (centralconfig.Cached, bool, error) {
	return centralconfig.Cached{}, false, assert.AnError
}

func (brokenCache) Save(context.Context, string, string, centralconfig.Cached) error {
	return assert.AnError
}

func (brokenCache) Delete(context.Context, string, string) error {
	return assert.AnError
}

func TestCacheFailuresAreNotFatal(t *testing.T) {
	h := newHarness(t, brokenCache{}, testutil.Response{Status: http.StatusOK, ETag: "v1", Body: `{"recording":"false"}`})
	assert.Len(t, h.logs.Find("failed to load cached central configuration"), 1)

	h.poller.Poll(context.Background())
	assert.False(t, h.store.Current().Recording())
	assert.Len(t, h.logs.Find("failed to persist central configuration"), 1)
}

func TestCorruptCacheIsDiscarded(t *testing.T) {
	ctx := context.Background()
	cache := centralconfig.NewStorageCache(slog.Default(), testutil.NewMemBroker(t))
	require.NoError(t, cache.Save(ctx, "checkout", "prod", centralconfig.Cached{
		Values: map[string]string{"transaction_sample_rate": "0.1"},
	}))
	_, _, err := cache.Load(ctx, "checkout", "prod")
	require.ErrorIs(t, err, centralconfig.ErrCorruptCache)

	h := newHarness(t, cache)
	assert.Same(t, h.initial, h.store.Current())
	assert.Equal(t, 1.0, h.store.Current().TransactionSampleRate())
	assert.Len(t, h.logs.Find("discarding cached central configuration"), 1)

	_, ok, err := cache.Load(ctx, "checkout", "prod")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Delete(ctx, "checkout", "prod"))
}
