// Package worker runs one dedicated background loop per component with
// deterministic start and stop semantics.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grafana/dskit/services"

	"github.com/otelfleet/apmagent/pkg/logutil"
)

const (
	DefaultErrorWait = time.Minute
	// DefaultMinWait replaces an empty wait from a successful iteration so
	// the loop never spins.
	DefaultMinWait = time.Second
)

// WaitInfo tells the loop how long to wait before the next iteration.
type WaitInfo struct {
	Interval time.Duration
	Reason   string
}

func (w WaitInfo) String() string {
	return fmt.Sprintf("%s (%s)", w.Interval, w.Reason)
}

// IterateFunc performs one unit of work. The returned WaitInfo schedules the
// next call. Returning an error never stops the loop.
type IterateFunc func(ctx context.Context) (WaitInfo, error)

// Closer is a resource owned by the loop and released after it exits.
type Closer interface {
	CloseIdleConnections()
}

type Option func(*Lifecycle)

// Disabled makes Start a no-op.
func Disabled() Option {
	return func(l *Lifecycle) { l.disabled = true }
}

// WithErrorWait sets the wait used when an iteration fails without
// suggesting one.
func WithErrorWait(d time.Duration) Option {
	return func(l *Lifecycle) { l.errorWait = d }
}

// WithMinWait sets the wait used when an iteration succeeds without
// asking for one.
func WithMinWait(d time.Duration) Option {
	return func(l *Lifecycle) { l.minWait = d }
}

// WithClient hands an HTTP client to the lifecycle, which releases it once
// the loop has exited.
func WithClient(c Closer) Option {
	return func(l *Lifecycle) { l.client = c }
}

// Lifecycle owns a single background loop. It is a dskit service so it can
// be managed by a services.Manager, and it exposes blocking Start and Stop for
// hosts that embed it directly.
type Lifecycle struct {
	services.Service

	name      string
	logger    *slog.Logger
	iterate   IterateFunc
	disabled  bool
	errorWait time.Duration
	minWait   time.Duration
	client    Closer

	ctx     context.Context
	cancel  context.CancelCauseFunc
	started chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	markOnce  sync.Once
}

var ErrStopped = errors.New("worker stopped")

func New(name string, logger *slog.Logger, iterate IterateFunc, opts ...Option) *Lifecycle {
	ctx, cancel := context.WithCancelCause(context.Background())
	l := &Lifecycle{
		name:      name,
		logger:    logger.With("worker", name),
		iterate:   iterate,
		errorWait: DefaultErrorWait,
		minWait:   DefaultMinWait,
		ctx:       ctx,
		cancel:    cancel,
		started:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.Service = services.NewBasicService(nil, l.running, l.stopping).WithName(name)
	return l
}

// Start launches the loop and returns once it is running. It does nothing if
// the component is disabled, already started or stopped.
func (l *Lifecycle) Start() {
	if l.disabled {
		l.logger.Debug("worker disabled, not starting")
		return
	}
	l.startOnce.Do(func() {
		if err := l.StartAsync(l.ctx); err != nil {
			l.logger.With("err", err).Debug("worker not started")
			return
		}
		if err := l.AwaitRunning(l.ctx); err != nil {
			l.logger.With("err", err).Debug("worker did not reach running state")
			return
		}
		<-l.started
	})
}

// Stop cancels the loop, waits for it to exit and releases owned resources:
// the loop first, then the HTTP client, then the cancellation source. Calling
// Stop more than once is a no-op.
func (l *Lifecycle) Stop() {
	l.stopOnce.Do(func() {
		l.StopAsync()
		if err := l.AwaitTerminated(context.Background()); err != nil {
			l.logger.With("err", err).Warn("worker terminated with failure")
		}
		if l.client != nil {
			l.client.CloseIdleConnections()
		}
		l.cancel(ErrStopped)
		l.logger.Debug("worker stopped")
	})
}

// IsRunning reports whether the loop is currently active.
func (l *Lifecycle) IsRunning() bool {
	return l.State() == services.Running
}

// Started is closed once the loop has begun.
func (l *Lifecycle) Started() <-chan struct{} {
	return l.started
}

func (l *Lifecycle) markStarted() {
	l.markOnce.Do(func() { close(l.started) })
}

func (l *Lifecycle) running(ctx context.Context) error {
	l.markStarted()
	if l.disabled {
		<-ctx.Done()
		return nil
	}
	ctx = logutil.WithContext(ctx, l.logger)
	l.logger.Debug("worker loop started")
	for {
		wait := l.runIteration(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.With("wait", wait.Interval, "reason", wait.Reason).Debug("waiting before next iteration")
		if !sleep(ctx, wait.Interval) {
			return nil
		}
	}
}

// runIteration calls iterate, turning errors and panics into a wait so that
// only cancellation ends the loop.
func (l *Lifecycle) runIteration(ctx context.Context) (wait WaitInfo) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.With("panic", r).Error("worker iteration panicked")
			wait = WaitInfo{Interval: l.errorWait, Reason: "iteration panicked"}
		}
	}()
	wait, err := l.iterate(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.With("err", err).Error("worker iteration failed")
		}
		if wait.Interval <= 0 {
			wait = WaitInfo{Interval: l.errorWait, Reason: "iteration failed"}
		}
	} else if wait.Interval <= 0 {
		wait = WaitInfo{Interval: l.minWait, Reason: "minimum wait"}
	}
	return wait
}

func (l *Lifecycle) stopping(_ error) error {
	l.markStarted()
	return nil
}

// sleep waits for d or until ctx is done. It reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
