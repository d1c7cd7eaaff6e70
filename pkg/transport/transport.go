// Package transport builds the long-lived HTTP clients agent components use
// to talk to the APM server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
)

const (
	AgentName    = "apm-agent-go"
	AgentVersion = "0.1.0"

	transportName = "go-http-client"
	runtimeName   = "go"
)

// PoolSettings tune the connection pool shared by every client in the
// process.
type PoolSettings struct {
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	// ReadIdleTimeout and PingTimeout drive HTTP/2 connection health checks.
	ReadIdleTimeout time.Duration
	PingTimeout     time.Duration
}

func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     4 * time.Minute,
		ReadIdleTimeout:     30 * time.Second,
		PingTimeout:         15 * time.Second,
	}
}

var pool = struct {
	mu       sync.Mutex
	tuned    bool
	settings PoolSettings
	template *http.Transport
}{}

// TuneConnectionPool applies settings to the process-wide connection pool
// template. Only the first call has an effect; it returns true for that call
// and false for every later one.
func TuneConnectionPool(settings PoolSettings) bool {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if pool.tuned {
		return false
	}
	pool.settings = settings
	pool.template = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       settings.MaxConnsPerHost,
		MaxIdleConnsPerHost:   settings.MaxIdleConnsPerHost,
		IdleConnTimeout:       settings.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	pool.tuned = true
	return true
}

// newRoundTripper clones the tuned template so each client owns its pool.
func newRoundTripper() (*http.Transport, error) {
	TuneConnectionPool(DefaultPoolSettings())

	pool.mu.Lock()
	t := pool.template.Clone()
	settings := pool.settings
	pool.mu.Unlock()

	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return nil, fmt.Errorf("configuring http2: %w", err)
	}
	h2.ReadIdleTimeout = settings.ReadIdleTimeout
	h2.PingTimeout = settings.PingTimeout
	return t, nil
}

// Config describes the client of one agent component.
type Config struct {
	// ServerURL is fixed for the lifetime of the client.
	ServerURL *url.URL
	// SecretToken is sent as a bearer token. Rotating it requires building a
	// new client.
	SecretToken string
	// APIKey takes precedence over SecretToken when both are set.
	APIKey string
	// Service identifies the instrumented service in the User-Agent, optional.
	ServiceName    string
	ServiceVersion string
}

// Client is an HTTP client bound to one APM server.
type Client struct {
	base       *url.URL
	userAgent  string
	httpClient *http.Client
	transport  *http.Transport
}

var ErrNoServerURL = errors.New("transport requires a server url")

func New(cfg Config) (*Client, error) {
	if cfg.ServerURL == nil {
		return nil, ErrNoServerURL
	}
	rt, err := newRoundTripper()
	if err != nil {
		return nil, err
	}
	base := *cfg.ServerURL
	ua := UserAgent(cfg.ServiceName, cfg.ServiceVersion)

	headers := http.Header{}
	headers.Set("User-Agent", ua)
	switch {
	case cfg.APIKey != "":
		headers.Set("Authorization", "ApiKey "+cfg.APIKey)
	case cfg.SecretToken != "":
		headers.Set("Authorization", "Bearer "+cfg.SecretToken)
	}

	return &Client{
		base:      &base,
		userAgent: ua,
		transport: rt,
		httpClient: &http.Client{
			Transport: &headerTransport{
				headers: headers,
				next: otelhttp.NewTransport(rt,
					otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
						return "apm-server " + r.URL.Path
					}),
				),
			},
		},
	}, nil
}

// BaseURL returns a copy of the server URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

func (c *Client) UserAgent() string { return c.userAgent }

// NewRequest builds a request for path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// CloseIdleConnections releases the client's pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
	c.transport.CloseIdleConnections()
}

type headerTransport struct {
	headers http.Header
	next    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, vs := range t.headers {
		req.Header[k] = vs
	}
	return t.next.RoundTrip(req)
}

// CloseIdleConnections lets http.Client reach the underlying pool.
func (t *headerTransport) CloseIdleConnections() {
	if ci, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// UserAgent composes the agent, transport and runtime identities. The
// service part is included when a service name is given.
func UserAgent(serviceName, serviceVersion string) string {
	goVersion := strings.TrimPrefix(runtime.Version(), "go")
	var b strings.Builder
	b.WriteString(token(AgentName) + "/" + token(AgentVersion))
	if serviceName != "" {
		b.WriteString(" (" + token(serviceName))
		if serviceVersion != "" {
			b.WriteString(" " + token(serviceVersion))
		}
		b.WriteString(")")
	}
	b.WriteString(" " + token(transportName) + "/" + token(goVersion))
	b.WriteString(" " + token(runtimeName) + "/" + token(goVersion))
	return b.String()
}

// token replaces every character that is not valid in an HTTP token with '_'.
func token(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if isTokenChar(r) {
			return r
		}
		return '_'
	}, s)
}

func isTokenChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("!#$%&'*+-.^_`|~", r)
}
