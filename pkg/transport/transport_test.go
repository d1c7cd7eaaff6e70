package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetPool(t *testing.T) {
	t.Helper()
	reset := func() {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		pool.tuned = false
		pool.template = nil
		pool.settings = PoolSettings{}
	}
	reset()
	t.Cleanup(reset)
}

func TestTuneConnectionPoolOnce(t *testing.T) {
	resetPool(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := DefaultPoolSettings()
			s.MaxIdleConnsPerHost = i + 1
			if TuneConnectionPool(s) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.False(t, TuneConnectionPool(DefaultPoolSettings()))

	pool.mu.Lock()
	defer pool.mu.Unlock()
	assert.Equal(t, pool.settings.MaxIdleConnsPerHost, pool.template.MaxIdleConnsPerHost)
}

func TestClientsShareSettingsNotPools(t *testing.T) {
	resetPool(t)
	s := DefaultPoolSettings()
	s.MaxIdleConnsPerHost = 7
	s.IdleConnTimeout = time.Minute
	require.True(t, TuneConnectionPool(s))

	u, _ := url.Parse("http://127.0.0.1:8200")
	a, err := New(Config{ServerURL: u})
	require.NoError(t, err)
	b, err := New(Config{ServerURL: u})
	require.NoError(t, err)

	assert.NotSame(t, a.transport, b.transport)
	assert.Equal(t, 7, a.transport.MaxIdleConnsPerHost)
	assert.Equal(t, time.Minute, b.transport.IdleConnTimeout)
}

func TestNewRequiresServerURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoServerURL)
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent("my service", "1.0 beta")
	assert.True(t, strings.HasPrefix(ua, AgentName+"/"+AgentVersion+" (my_service 1.0_beta) "), ua)
	assert.Contains(t, ua, "go-http-client/")

	ua = UserAgent("", "")
	assert.NotContains(t, ua, "(")

	assert.Equal(t, "unknown", token(""))
	assert.Equal(t, "a_b_c", token("a/b(c"))
}

func TestClientHeaders(t *testing.T) {
	type seen struct {
		auth, ua, path, query string
	}
	reqs := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- seen{r.Header.Get("Authorization"), r.Header.Get("User-Agent"), r.URL.Path, r.URL.RawQuery}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL + "/prefix")
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		cfg  Config
		want string
	}{
		{"none", Config{}, ""},
		{"secret token", Config{SecretToken: "s3cr3t"}, "Bearer s3cr3t"},
		{"api key wins", Config{SecretToken: "s3cr3t", APIKey: "key"}, "ApiKey key"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.ServerURL = u
			tc.cfg.ServiceName = "checkout"
			c, err := New(tc.cfg)
			require.NoError(t, err)
			t.Cleanup(c.CloseIdleConnections)

			req, err := c.NewRequest(context.Background(), http.MethodGet, "config/v1/agents", url.Values{"service.name": {"checkout"}}, nil)
			require.NoError(t, err)
			resp, err := c.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			got := <-reqs
			assert.Equal(t, tc.want, got.auth)
			assert.Equal(t, c.UserAgent(), got.ua)
			assert.Contains(t, got.ua, "(checkout)")
			assert.Equal(t, "/prefix/config/v1/agents", got.path)
			assert.Equal(t, "service.name=checkout", got.query)
			// the caller's request is left untouched
			assert.Empty(t, req.Header.Get("Authorization"))
		})
	}
}

func TestBaseURLIsCopied(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1:8200")
	c, err := New(Config{ServerURL: u})
	require.NoError(t, err)
	u.Host = "elsewhere"
	got := c.BaseURL()
	assert.Equal(t, "127.0.0.1:8200", got.Host)
	got.Host = "mutated"
	assert.Equal(t, "127.0.0.1:8200", c.BaseURL().Host)
}
