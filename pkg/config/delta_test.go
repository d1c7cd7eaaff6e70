package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelfleet/apmagent/pkg/config"
)

func TestParseDelta(t *testing.T) {
	d, err := config.ParseDelta([]byte(`{
		"transaction_sample_rate": "0.5",
		"capture_body": "ALL",
		"recording": false,
		"stack_trace_limit": 10,
		"span_frames_min_duration": "20",
		"exit_span_min_duration": "1s",
		"log_level": "debug",
		"sanitize_field_names": "a, b,,c",
		"transaction_ignore_urls": ""
	}`), `"abc"`)
	require.NoError(t, err)

	assert.Equal(t, `"abc"`, d.ETag)
	require.NotNil(t, d.TransactionSampleRate)
	assert.Equal(t, 0.5, *d.TransactionSampleRate)
	require.NotNil(t, d.CaptureBody)
	assert.Equal(t, config.CaptureBodyAll, *d.CaptureBody)
	require.NotNil(t, d.Recording)
	assert.False(t, *d.Recording)
	require.NotNil(t, d.StackTraceLimit)
	assert.Equal(t, 10, *d.StackTraceLimit)
	require.NotNil(t, d.SpanFramesMinDuration)
	assert.Equal(t, 20*time.Millisecond, *d.SpanFramesMinDuration)
	require.NotNil(t, d.ExitSpanMinDuration)
	assert.Equal(t, time.Second, *d.ExitSpanMinDuration)
	require.NotNil(t, d.LogLevel)
	assert.Equal(t, slog.LevelDebug, *d.LogLevel)
	assert.Equal(t, []string{"a", "b", "c"}, d.SanitizeFieldNames)
	assert.NotNil(t, d.TransactionIgnoreURLs)
	assert.Empty(t, d.TransactionIgnoreURLs)

	assert.Nil(t, d.CaptureHeaders)
	assert.Nil(t, d.IgnoreMessageQueues)
	assert.Empty(t, d.Unknown)
	assert.Empty(t, d.Rejected)
	assert.Equal(t, "false", d.Raw["recording"])
	assert.Equal(t, "10", d.Raw["stack_trace_limit"])
}

func TestParseDeltaUnknownAndRejected(t *testing.T) {
	d, err := config.ParseDelta([]byte(`{
		"unknown_option": "x",
		"another": 1,
		"transaction_sample_rate": "0.2",
		"capture_body": "sometimes",
		"transaction_max_spans": "many"
	}`), "etag-1")
	require.NoError(t, err)

	require.NotNil(t, d.TransactionSampleRate)
	assert.Equal(t, 0.2, *d.TransactionSampleRate)
	assert.Equal(t, []string{"another", "unknown_option"}, d.Unknown)
	assert.Contains(t, d.Rejected, "capture_body")
	assert.Contains(t, d.Rejected, "transaction_max_spans")
	assert.Nil(t, d.CaptureBody)
	assert.Nil(t, d.TransactionMaxSpans)
	if diff := cmp.Diff(map[string]string{"transaction_sample_rate": "0.2"}, d.Raw); diff != "" {
		t.Errorf("raw values mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDeltaErrors(t *testing.T) {
	_, err := config.ParseDelta([]byte(`{not json`), "etag")
	assert.Error(t, err)

	_, err = config.ParseDelta([]byte(`["a"]`), "etag")
	assert.Error(t, err)

	_, err = config.ParseDelta([]byte(`{}`), "")
	assert.ErrorIs(t, err, config.ErrEmptyETag)
}

func TestParseDeltaEmptyBody(t *testing.T) {
	d, err := config.ParseDelta(nil, "etag")
	require.NoError(t, err)
	assert.Empty(t, d.Raw)
	assert.Empty(t, d.Unknown)
}

func TestSampleRateRounding(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want float64
	}{
		{"0.12346", 0.1235},
		{"0.00001", 0.0001},
		{"0", 0},
		{"1", 1},
	} {
		t.Run(tc.in, func(t *testing.T) {
			d, err := config.DeltaFromValues(map[string]string{config.KeyTransactionSampleRate: tc.in}, "e")
			require.NoError(t, err)
			require.NotNil(t, d.TransactionSampleRate)
			assert.Equal(t, tc.want, *d.TransactionSampleRate)
		})
	}

	d, err := config.DeltaFromValues(map[string]string{config.KeyTransactionSampleRate: "1.5"}, "e")
	require.NoError(t, err)
	assert.Nil(t, d.TransactionSampleRate)
	assert.Contains(t, d.Rejected, config.KeyTransactionSampleRate)
}
