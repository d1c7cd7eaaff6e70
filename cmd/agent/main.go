package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/otelfleet/apmagent/pkg/agent"
	"github.com/otelfleet/apmagent/pkg/config"
	"github.com/otelfleet/apmagent/pkg/logutil"
	"github.com/otelfleet/apmagent/pkg/transport"
	"github.com/otelfleet/apmagent/pkg/util/contextutil"
)

func main() {
	var (
		configPath  string
		metricsAddr string
		maxIdle     int
		idleTimeout time.Duration
	)
	pflag.StringVarP(&configPath, "config", "c", "", "path to the agent YAML configuration")
	pflag.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address when set")
	pflag.IntVar(&maxIdle, "max-idle-conns-per-host", transport.DefaultPoolSettings().MaxIdleConnsPerHost, "idle connections kept per APM server host")
	pflag.DurationVar(&idleTimeout, "idle-conn-timeout", transport.DefaultPoolSettings().IdleConnTimeout, "how long idle connections are kept")
	pflag.Parse()

	opts, err := config.Load(configPath)
	if err != nil {
		slog.Default().With("err", err, "path", configPath).Error("invalid configuration")
		os.Exit(1)
	}

	origin := "defaults"
	if configPath != "" {
		origin = configPath
	}
	store := config.NewStore(config.NewSnapshot(opts, origin))
	logger := logutil.New(os.Stderr, store)
	slog.SetDefault(logger)

	pool := transport.DefaultPoolSettings()
	pool.MaxIdleConnsPerHost = maxIdle
	pool.IdleConnTimeout = idleTimeout
	transport.TuneConnectionPool(pool)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := contextutil.SetupSignals(context.Background())
	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.With("addr", metricsAddr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.With("err", err).Error("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	a, err := agent.New(store, agent.Options{
		Logger:     logger,
		Registerer: reg,
	})
	if err != nil {
		logger.With("err", err).Error("failed to set up agent")
		os.Exit(1)
	}
	logger.With("service", opts.ServiceName, "id", a.EphemeralID()).Info("apm agent starting...")
	if err := a.Run(ctx); err != nil {
		logger.With("err", err).Error("agent exited with error")
		os.Exit(1)
	}
	logger.With("cause", context.Cause(ctx)).Info("apm agent stopped")
}
