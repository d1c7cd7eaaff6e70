// Package agent assembles the agent's background components with a dskit
// module manager.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otelfleet/apmagent/pkg/centralconfig"
	"github.com/otelfleet/apmagent/pkg/config"
	"github.com/otelfleet/apmagent/pkg/logutil"
	storagesvc "github.com/otelfleet/apmagent/pkg/services/storage"
)

// The modules that make up the agent.
const (
	All           = "all"
	Storage       = "storage"
	CentralConfig = "central-config"
)

type Options struct {
	Logger *slog.Logger
	// Registerer receives agent metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
	// HandleSignals stops the agent on SIGINT/SIGTERM.
	HandleSignals bool
}

type Agent struct {
	logger      *slog.Logger
	ephemeralID string
	opts        Options
	store       *config.Store

	mm *modules.Manager

	storage       *storagesvc.StorageService
	centralConfig *centralconfig.Component
}

// New builds an agent around store, whose current snapshot must hold the
// static configuration.
func New(store *config.Store, opts Options) (*Agent, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := uuid.NewString()
	a := &Agent{
		logger:      opts.Logger.With("agent.ephemeral_id", id),
		ephemeralID: id,
		opts:        opts,
		store:       store,
	}
	if err := a.setupModuleManager(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Agent) EphemeralID() string { return a.ephemeralID }

// Config returns the live configuration store.
func (a *Agent) Config() *config.Store { return a.store }

// CentralConfig returns the central configuration component once Run has
// initialized it.
func (a *Agent) CentralConfig() *centralconfig.Component { return a.centralConfig }

func (a *Agent) setupModuleManager() error {
	base := a.store.Current()
	mm := modules.NewManager(logutil.NewGoKitLogger(a.logger.With("component", "modules")))
	mm.RegisterModule(All, nil)

	mm.RegisterModule(Storage, func() (services.Service, error) {
		svc, err := storagesvc.NewStorageService(
			a.logger.With("service", Storage),
			base.StoragePath(),
		)
		if err != nil {
			return nil, err
		}
		a.storage = svc
		return svc, nil
	}, modules.UserInvisibleModule)

	mm.RegisterModule(CentralConfig, func() (services.Service, error) {
		cfg := centralconfig.ComponentConfig{
			Logger:     a.logger,
			Store:      a.store,
			Registerer: a.opts.Registerer,
		}
		if a.storage != nil {
			cfg.Cache = centralconfig.NewStorageCache(a.logger, a.storage)
		}
		c, err := centralconfig.NewComponent(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		a.centralConfig = c
		return c, nil
	})

	deps := map[string][]string{
		All: {CentralConfig},
	}
	if base.StoragePath() != "" {
		deps[CentralConfig] = []string{Storage}
	}
	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}
	a.mm = mm
	return nil
}

// Run starts every module and blocks until ctx is cancelled, a signal
// arrives (when enabled) or a module fails.
func (a *Agent) Run(ctx context.Context) error {
	svcMap, err := a.mm.InitModuleServices(All)
	if err != nil {
		return err
	}

	mgr, err := services.NewManager(slices.Collect(maps.Values(svcMap))...)
	if err != nil {
		a.logger.With("err", err).Error("failed to create service manager")
		return err
	}

	servicesFailed := func(service services.Service) {
		mgr.StopAsync()
		for m, s := range svcMap {
			if s == service {
				a.logger.With("module", m, "err", service.FailureCase()).Error("module failed")
				return
			}
		}
		a.logger.With("module", "unknown", "err", service.FailureCase()).Error("module failed")
	}
	mgr.AddListener(services.NewManagerListener(
		func() { a.logger.Info("agent started") },
		func() { a.logger.Info("agent stopped") },
		servicesFailed,
	))

	if a.opts.HandleSignals {
		handler := signals.NewHandler(logutil.NewGoKitLogger(a.logger))
		go func() {
			handler.Loop()
			mgr.StopAsync()
		}()
		defer handler.Stop()
	}
	go func() {
		<-ctx.Done()
		mgr.StopAsync()
	}()

	a.logger.With("source", a.store.Current().Description()).Info("agent starting")
	if err := mgr.StartAsync(context.Background()); err != nil {
		return err
	}
	if err := mgr.AwaitStopped(context.Background()); err != nil {
		return err
	}
	// the central configuration worker owns its HTTP client
	if a.centralConfig != nil {
		a.centralConfig.Stop()
	}

	if failed := mgr.ServicesByState()[services.Failed]; len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, f := range failed {
			errs = append(errs, f.FailureCase())
		}
		return fmt.Errorf("services failed: %w", errors.Join(errs...))
	}
	return nil
}
