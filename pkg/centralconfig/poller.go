// Package centralconfig polls the APM server for central configuration and
// publishes the resulting snapshots.
package centralconfig

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/httpcc"
	"github.com/samber/lo"

	"github.com/otelfleet/apmagent/pkg/config"
	"github.com/otelfleet/apmagent/pkg/logutil"
	"github.com/otelfleet/apmagent/pkg/worker"
)

const (
	AgentsConfigPath = "config/v1/agents"

	DefaultWait           = 5 * time.Minute
	DefaultErrorWait      = time.Minute
	DefaultRequestTimeout = 30 * time.Second

	maxBodySize = 1 << 20
)

// Client sends requests to the APM server. *transport.Client implements it.
type Client interface {
	NewRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error)
	Do(req *http.Request) (*http.Response, error)
}

// Publisher receives new snapshots. *config.Store implements it.
type Publisher interface {
	Set(snap *config.Snapshot)
}

type PollerConfig struct {
	Logger *slog.Logger
	Client Client
	// Base is the static snapshot every central configuration is layered on.
	Base  *config.Snapshot
	Store Publisher
	// Cache is optional.
	Cache Cache
	// Metrics is optional.
	Metrics *Metrics

	DefaultWait    time.Duration
	ErrorWait      time.Duration
	RequestTimeout time.Duration
}

// Poller fetches central configuration with conditional requests. Poll is
// driven by a single worker goroutine; ETag may be read concurrently.
type Poller struct {
	logger  *slog.Logger
	client  Client
	base    *config.Snapshot
	store   Publisher
	cache   Cache
	metrics *Metrics

	defaultWait    time.Duration
	errorWait      time.Duration
	requestTimeout time.Duration

	etag atomic.Value
}

func NewPoller(ctx context.Context, cfg PollerConfig) (*Poller, error) {
	if cfg.Client == nil {
		return nil, errors.New("central config poller requires a client")
	}
	if cfg.Base == nil {
		return nil, errors.New("central config poller requires a base snapshot")
	}
	if cfg.Store == nil {
		return nil, errors.New("central config poller requires a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	p := &Poller{
		logger:         cfg.Logger,
		client:         cfg.Client,
		base:           cfg.Base.Base(),
		store:          cfg.Store,
		cache:          cfg.Cache,
		metrics:        cfg.Metrics,
		defaultWait:    lo.Ternary(cfg.DefaultWait > 0, cfg.DefaultWait, DefaultWait),
		errorWait:      lo.Ternary(cfg.ErrorWait > 0, cfg.ErrorWait, DefaultErrorWait),
		requestTimeout: lo.Ternary(cfg.RequestTimeout > 0, cfg.RequestTimeout, DefaultRequestTimeout),
	}
	p.etag.Store("")
	p.restore(ctx)
	return p, nil
}

// ETag returns the tag of the last accepted central configuration.
func (p *Poller) ETag() string {
	return p.etag.Load().(string)
}

// Iterate adapts Poll to the worker loop. Failures are already folded into
// the returned wait, so the error is always nil.
func (p *Poller) Iterate(ctx context.Context) (worker.WaitInfo, error) {
	return p.Poll(ctx), nil
}

// Poll runs one fetch, publishes a new snapshot if the configuration changed
// and returns the wait before the next poll. It logs through the logger
// carried by ctx when there is one.
func (p *Poller) Poll(ctx context.Context) worker.WaitInfo {
	l := logutil.FromContext(ctx, p.logger)
	res, err := p.fetch(ctx, l)
	if err != nil {
		wait := p.handleError(ctx, l, err)
		p.metrics.nextWait.Set(wait.Interval.Seconds())
		return wait
	}
	if res.delta != nil {
		p.apply(ctx, l, res.delta)
		p.metrics.fetches.WithLabelValues(outcomeUpdated).Inc()
	} else {
		l.Debug("central configuration not modified")
		p.metrics.fetches.WithLabelValues(outcomeNotModified).Inc()
	}
	p.metrics.nextWait.Set(res.wait.Interval.Seconds())
	return res.wait
}

type fetchResult struct {
	// delta is nil when the configuration did not change.
	delta *config.Delta
	wait  worker.WaitInfo
}

func (p *Poller) fetch(ctx context.Context, l *slog.Logger) (fetchResult, error) {
	query := url.Values{}
	query.Set("service.name", p.base.ServiceName())
	if env := p.base.Environment(); env != "" {
		query.Set("service.environment", env)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	req, err := p.client.NewRequest(reqCtx, http.MethodGet, AgentsConfigPath, query, nil)
	if err != nil {
		return fetchResult{}, &FetchError{
			Category:      Misconfiguration,
			SuggestedWait: p.errorWait,
			Msg:           "failed to build central configuration request",
			Err:           err,
		}
	}
	etag := p.ETag()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	logutil.WithMethod(l, req.Method).With("url", req.URL.Redacted(), "if-none-match", etag).Debug("fetching central configuration")

	resp, err := p.client.Do(req)
	if err != nil {
		return fetchResult{}, &FetchError{
			Category:      Transient,
			SuggestedWait: p.errorWait,
			Msg:           "failed to fetch central configuration",
			Err:           err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fetchResult{}, &FetchError{
			Category:      Transient,
			StatusCode:    resp.StatusCode,
			SuggestedWait: p.errorWait,
			Msg:           "failed to read central configuration response",
			Err:           err,
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return fetchResult{wait: p.waitFor(l, resp)}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		etag = resp.Header.Get("ETag")
		if etag == "" {
			return fetchResult{}, &FetchError{
				Category:      Protocol,
				StatusCode:    resp.StatusCode,
				SuggestedWait: p.errorWait,
				Msg:           "cannot apply central configuration",
				Err:           ErrMissingETag,
			}
		}
		delta, err := config.ParseDelta(body, etag)
		if err != nil {
			return fetchResult{}, &FetchError{
				Category:      Parse,
				StatusCode:    resp.StatusCode,
				SuggestedWait: p.errorWait,
				Msg:           "failed to parse central configuration",
				Err:           err,
			}
		}
		return fetchResult{delta: delta, wait: p.waitFor(l, resp)}, nil
	default:
		return fetchResult{}, statusError(resp.StatusCode, string(body), p.errorWait)
	}
}

// waitFor uses a max-age directive as is, falling back to the default wait.
func (p *Poller) waitFor(l *slog.Logger, resp *http.Response) worker.WaitInfo {
	fallback := worker.WaitInfo{Interval: p.defaultWait, Reason: "default wait"}
	header := resp.Header.Get("Cache-Control")
	if header == "" {
		return fallback
	}
	directives, err := httpcc.ParseResponse(header)
	if err != nil {
		l.With("err", err, "cache-control", header).Debug("ignoring malformed Cache-Control header")
		return fallback
	}
	maxAge, ok := directives.MaxAge()
	if !ok {
		return fallback
	}
	return worker.WaitInfo{
		Interval: time.Duration(maxAge) * time.Second,
		Reason:   "max-age from Cache-Control response header",
	}
}

func (p *Poller) handleError(ctx context.Context, l *slog.Logger, err error) worker.WaitInfo {
	wait := worker.WaitInfo{Interval: p.errorWait, Reason: "error fetching central configuration"}
	if ctx.Err() != nil {
		l.With("err", err).Debug("central configuration fetch interrupted by shutdown")
		return wait
	}
	p.metrics.fetches.WithLabelValues(outcomeError).Inc()

	var fe *FetchError
	if !errors.As(err, &fe) {
		fe = &FetchError{Category: Transient, SuggestedWait: p.errorWait, Msg: "central configuration fetch failed", Err: err}
	}
	if fe.SuggestedWait > 0 {
		wait.Interval = fe.SuggestedWait
	}
	attrs := []any{"category", fe.Category.String(), "wait", wait.Interval}
	if fe.StatusCode != 0 {
		attrs = append(attrs, "status", fe.StatusCode)
	}
	if fe.Err != nil {
		attrs = append(attrs, "err", fe.Err)
	}
	l.Log(ctx, fe.Level(), fe.Msg, attrs...)
	return wait
}

func (p *Poller) apply(ctx context.Context, l *slog.Logger, delta *config.Delta) {
	p.publish(l, delta)
	if p.cache != nil {
		err := p.cache.Save(ctx, p.base.ServiceName(), p.base.Environment(), Cached{
			ETag:   delta.ETag,
			Values: delta.Raw,
		})
		if err != nil {
			l.With("err", err).Warn("failed to persist central configuration")
		}
	}
	p.metrics.updates.Inc()
}

func (p *Poller) publish(logger *slog.Logger, delta *config.Delta) {
	l := logger.With("etag", delta.ETag)
	if len(delta.Unknown) > 0 {
		l.With("keys", delta.Unknown).Info("central configuration contains options this agent does not support")
	}
	for key, reason := range delta.Rejected {
		l.With("key", key, "reason", reason).Warn("ignoring invalid central configuration value")
	}
	snap := p.base.WithDelta(delta)
	p.store.Set(snap)
	p.etag.Store(delta.ETag)
	l.With("options", lo.Keys(delta.Raw), "source", snap.Description()).Info("applied central configuration")
}

func (p *Poller) restore(ctx context.Context) {
	if p.cache == nil {
		return
	}
	service, env := p.base.ServiceName(), p.base.Environment()
	l := p.logger.With("service", service, "environment", env)
	cached, ok, err := p.cache.Load(ctx, service, env)
	if errors.Is(err, ErrCorruptCache) {
		l.With("err", err).Warn("discarding cached central configuration")
		if err := p.cache.Delete(ctx, service, env); err != nil {
			l.With("err", err).Warn("failed to delete cached central configuration")
		}
		return
	} else if err != nil {
		l.With("err", err).Warn("failed to load cached central configuration")
		return
	}
	if !ok {
		return
	}
	delta, err := config.DeltaFromValues(cached.Values, cached.ETag)
	if err != nil {
		l.With("err", err).Warn("discarding cached central configuration")
		return
	}
	l.With("etag", cached.ETag).Info("restoring cached central configuration")
	p.publish(p.logger, delta)
}
