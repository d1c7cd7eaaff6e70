package centralconfig

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/otelfleet/apmagent/pkg/config"
	"github.com/otelfleet/apmagent/pkg/transport"
	"github.com/otelfleet/apmagent/pkg/worker"
)

const ComponentName = "central-config"

type ComponentConfig struct {
	Logger *slog.Logger
	Store  *config.Store
	// Cache and Registerer are optional.
	Cache      Cache
	Registerer prometheus.Registerer

	DefaultWait    time.Duration
	ErrorWait      time.Duration
	RequestTimeout time.Duration
}

// Component runs the poller on its own worker. The worker owns the HTTP
// client built for the component and releases it on Stop.
type Component struct {
	*worker.Lifecycle
	Poller *Poller
	Client *transport.Client
}

// NewComponent wires a poller for the snapshot currently in cfg.Store. The
// component is disabled when the agent or central configuration is turned
// off, in which case Start does nothing.
func NewComponent(ctx context.Context, cfg ComponentConfig) (*Component, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", ComponentName)
	base := cfg.Store.Current().Base()

	serverURL, err := base.ServerURL()
	if err != nil {
		return nil, fmt.Errorf("central configuration: %w", err)
	}
	client, err := transport.New(transport.Config{
		ServerURL:      serverURL,
		SecretToken:    base.SecretToken(),
		APIKey:         base.APIKey(),
		ServiceName:    base.ServiceName(),
		ServiceVersion: base.ServiceVersion(),
	})
	if err != nil {
		return nil, err
	}

	disabled := !base.Enabled() || !base.CentralConfig()
	cache := cfg.Cache
	if disabled {
		// a disabled component must not publish overrides it will never refresh
		cache = nil
	}
	poller, err := NewPoller(ctx, PollerConfig{
		Logger:         logger,
		Client:         client,
		Base:           base,
		Store:          cfg.Store,
		Cache:          cache,
		Metrics:        NewMetrics(cfg.Registerer),
		DefaultWait:    cfg.DefaultWait,
		ErrorWait:      cfg.ErrorWait,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	opts := []worker.Option{
		worker.WithClient(client),
		worker.WithErrorWait(poller.errorWait),
	}
	if disabled {
		logger.Info("central configuration disabled")
		opts = append(opts, worker.Disabled())
	}

	return &Component{
		Lifecycle: worker.New(ComponentName, logger, poller.Iterate, opts...),
		Poller:    poller,
		Client:    client,
	}, nil
}
