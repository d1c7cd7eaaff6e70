package agent_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelfleet/apmagent/pkg/agent"
	storagesvc "github.com/otelfleet/apmagent/pkg/services/storage"
	"github.com/otelfleet/apmagent/pkg/util/testutil"
)

func TestAgentRun(t *testing.T) {
	for name, storagePath := range map[string]string{
		"without storage": "",
		"with storage":    storagesvc.InMemory,
	} {
		t.Run(name, func(t *testing.T) {
			srv := testutil.NewAPMServer(t, testutil.Response{
				Status: http.StatusOK,
				ETag:   `"abc"`,
				Body:   `{"transaction_sample_rate":"0.5","log_level":"debug"}`,
			})
			opts := testutil.Options(srv.URL)
			opts.StoragePath = storagePath
			store := testutil.NewStore(opts)
			reg := prometheus.NewRegistry()

			a, err := agent.New(store, agent.Options{Registerer: reg})
			require.NoError(t, err)
			assert.NotEmpty(t, a.EphemeralID())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errC := make(chan error, 1)
			go func() { errC <- a.Run(ctx) }()

			require.Eventually(t, func() bool {
				return store.Current().ETag() == `"abc"`
			}, 5*time.Second, 10*time.Millisecond)
			assert.Equal(t, 0.5, a.Config().Current().TransactionSampleRate())
			assert.Equal(t, slog.LevelDebug, store.Level())

			count, err := promtestutil.GatherAndCount(reg, "apm_agent_central_config_updates_total")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			cancel()
			select {
			case err := <-errC:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("agent did not stop")
			}
			require.NotNil(t, a.CentralConfig())
			assert.False(t, a.CentralConfig().IsRunning())
		})
	}
}
