package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otelfleet/apmagent/pkg/logutil"
)

const (
	EnvSecretToken = "ELASTIC_APM_SECRET_TOKEN"
	EnvAPIKey      = "ELASTIC_APM_API_KEY"
)

const DefaultServerURL = "http://localhost:8200"

// CaptureBody controls whether request bodies are recorded.
type CaptureBody string

const (
	CaptureBodyOff          CaptureBody = "off"
	CaptureBodyErrors       CaptureBody = "errors"
	CaptureBodyTransactions CaptureBody = "transactions"
	CaptureBodyAll          CaptureBody = "all"
)

// Options is the statically sourced agent configuration. It seeds the base
// snapshot and is never mutated after the snapshot is built.
type Options struct {
	ServiceName    string   `yaml:"service_name"`
	ServiceVersion string   `yaml:"service_version"`
	Environment    string   `yaml:"environment"`
	ServerURLs     []string `yaml:"server_urls"`
	SecretToken    string   `yaml:"secret_token"`
	APIKey         string   `yaml:"api_key"`
	Enabled        bool     `yaml:"enabled"`
	CentralConfig  bool     `yaml:"central_config"`
	// StoragePath enables the on-disk central configuration cache when set.
	StoragePath string `yaml:"storage_path"`

	TransactionSampleRate                float64       `yaml:"transaction_sample_rate"`
	CaptureBody                          CaptureBody   `yaml:"capture_body"`
	CaptureBodyContentTypes              []string      `yaml:"capture_body_content_types"`
	CaptureHeaders                       bool          `yaml:"capture_headers"`
	LogLevel                             string        `yaml:"log_level"`
	Recording                            bool          `yaml:"recording"`
	SpanFramesMinDuration                time.Duration `yaml:"span_frames_min_duration"`
	StackTraceLimit                      int           `yaml:"stack_trace_limit"`
	TransactionMaxSpans                  int           `yaml:"transaction_max_spans"`
	TransactionIgnoreURLs                []string      `yaml:"transaction_ignore_urls"`
	IgnoreMessageQueues                  []string      `yaml:"ignore_message_queues"`
	SanitizeFieldNames                   []string      `yaml:"sanitize_field_names"`
	SpanStackTraceMinDuration            time.Duration `yaml:"span_stack_trace_min_duration"`
	ExitSpanMinDuration                  time.Duration `yaml:"exit_span_min_duration"`
	TraceContinuationStrategy            string        `yaml:"trace_continuation_strategy"`
	SpanCompressionEnabled               bool          `yaml:"span_compression_enabled"`
	SpanCompressionExactMatchMaxDuration time.Duration `yaml:"span_compression_exact_match_max_duration"`
	SpanCompressionSameKindMaxDuration   time.Duration `yaml:"span_compression_same_kind_max_duration"`
}

func DefaultOptions() Options {
	return Options{
		ServerURLs:            []string{DefaultServerURL},
		Enabled:               true,
		CentralConfig:         true,
		TransactionSampleRate: 1.0,
		CaptureBody:           CaptureBodyOff,
		CaptureBodyContentTypes: []string{
			"application/x-www-form-urlencoded*",
			"text/*",
			"application/json*",
			"application/xml*",
		},
		CaptureHeaders:        true,
		LogLevel:              "error",
		Recording:             true,
		SpanFramesMinDuration: 5 * time.Millisecond,
		StackTraceLimit:       50,
		TransactionMaxSpans:   500,
		TransactionIgnoreURLs: []string{
			"/VAADIN/*", "/heartbeat*", "/favicon.ico", "*.js", "*.css", "*.jpg", "*.jpeg",
			"*.png", "*.gif", "*.webp", "*.svg", "*.woff", "*.woff2",
		},
		SanitizeFieldNames: []string{
			"password", "passwd", "pwd", "secret", "*key", "*token*", "*session*",
			"*credit*", "*card*", "*auth*", "set-cookie", "*principal*",
		},
		SpanStackTraceMinDuration:            5 * time.Millisecond,
		TraceContinuationStrategy:            "continue",
		SpanCompressionEnabled:               true,
		SpanCompressionExactMatchMaxDuration: 50 * time.Millisecond,
	}
}

// Load reads options from a YAML file layered over DefaultOptions. Secrets
// may also be supplied through the environment, which takes precedence.
func Load(path string) (Options, error) {
	opts := DefaultOptions()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if v := os.Getenv(EnvSecretToken); v != "" {
		opts.SecretToken = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		opts.APIKey = v
	}
	return opts, opts.Validate()
}

func (o Options) Validate() error {
	var errs []error
	if o.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required"))
	}
	if len(o.ServerURLs) == 0 {
		errs = append(errs, errors.New("at least one server url is required"))
	}
	for _, raw := range o.ServerURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid server url %q", raw))
		}
	}
	if o.TransactionSampleRate < 0 || o.TransactionSampleRate > 1 {
		errs = append(errs, fmt.Errorf("transaction_sample_rate %v out of range [0,1]", o.TransactionSampleRate))
	}
	if _, err := parseCaptureBody(string(o.CaptureBody)); err != nil {
		errs = append(errs, err)
	}
	if _, err := logutil.ParseLevel(o.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseContinuationStrategy(o.TraceContinuationStrategy); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ServerURL returns the first configured server URL, which is the one the
// agent talks to for its whole lifetime.
func (o Options) ServerURL() (*url.URL, error) {
	if len(o.ServerURLs) == 0 {
		return nil, errors.New("no server url configured")
	}
	return url.Parse(o.ServerURLs[0])
}

func (o Options) logLevel() slog.Level {
	lvl, err := logutil.ParseLevel(o.LogLevel)
	if err != nil {
		return logutil.LevelError
	}
	return lvl
}
