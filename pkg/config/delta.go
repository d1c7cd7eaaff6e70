package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/otelfleet/apmagent/pkg/logutil"
)

// Keys recognized in a central configuration document.
const (
	KeyTransactionSampleRate                = "transaction_sample_rate"
	KeyCaptureBody                          = "capture_body"
	KeyCaptureBodyContentTypes              = "capture_body_content_types"
	KeyCaptureHeaders                       = "capture_headers"
	KeyLogLevel                             = "log_level"
	KeyRecording                            = "recording"
	KeySpanFramesMinDuration                = "span_frames_min_duration"
	KeyStackTraceLimit                      = "stack_trace_limit"
	KeyTransactionMaxSpans                  = "transaction_max_spans"
	KeyTransactionIgnoreURLs                = "transaction_ignore_urls"
	KeyIgnoreMessageQueues                  = "ignore_message_queues"
	KeySanitizeFieldNames                   = "sanitize_field_names"
	KeySpanStackTraceMinDuration            = "span_stack_trace_min_duration"
	KeyExitSpanMinDuration                  = "exit_span_min_duration"
	KeyTraceContinuationStrategy            = "trace_continuation_strategy"
	KeySpanCompressionEnabled               = "span_compression_enabled"
	KeySpanCompressionExactMatchMaxDuration = "span_compression_exact_match_max_duration"
	KeySpanCompressionSameKindMaxDuration   = "span_compression_same_kind_max_duration"
)

var ErrEmptyETag = errors.New("central configuration delta requires an etag")

// Delta is a sparse set of options the server overrides after startup.
// A nil pointer or nil slice means the option is not overridden.
type Delta struct {
	ETag string

	TransactionSampleRate                *float64
	CaptureBody                          *CaptureBody
	CaptureBodyContentTypes              []string
	CaptureHeaders                       *bool
	LogLevel                             *slog.Level
	Recording                            *bool
	SpanFramesMinDuration                *time.Duration
	StackTraceLimit                      *int
	TransactionMaxSpans                  *int
	TransactionIgnoreURLs                []string
	IgnoreMessageQueues                  []string
	SanitizeFieldNames                   []string
	SpanStackTraceMinDuration            *time.Duration
	ExitSpanMinDuration                  *time.Duration
	TraceContinuationStrategy            *string
	SpanCompressionEnabled               *bool
	SpanCompressionExactMatchMaxDuration *time.Duration
	SpanCompressionSameKindMaxDuration   *time.Duration

	// Unknown lists keys the agent does not recognize, sorted.
	Unknown []string
	// Rejected maps recognized keys whose values could not be parsed to the reason.
	Rejected map[string]string
	// Raw holds the accepted key/value pairs as received.
	Raw map[string]string
}

// ParseDelta decodes a central configuration JSON document. Values may be
// strings, numbers or booleans. Unknown keys and unparseable values never fail
// the parse; they are reported through Unknown and Rejected.
func ParseDelta(body []byte, etag string) (*Delta, error) {
	var doc map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decoding central configuration: %w", err)
		}
	}
	values := make(map[string]string, len(doc))
	for k, v := range doc {
		switch tv := v.(type) {
		case string:
			values[k] = tv
		case float64:
			values[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool:
			values[k] = strconv.FormatBool(tv)
		case nil:
			values[k] = ""
		default:
			raw, _ := json.Marshal(tv)
			values[k] = string(raw)
		}
	}
	return DeltaFromValues(values, etag)
}

// DeltaFromValues builds a Delta from already decoded key/value pairs.
func DeltaFromValues(values map[string]string, etag string) (*Delta, error) {
	if etag == "" {
		return nil, ErrEmptyETag
	}
	d := &Delta{
		ETag:     etag,
		Rejected: map[string]string{},
		Raw:      map[string]string{},
	}
	keys := lo.Keys(values)
	slices.Sort(keys)
	for _, key := range keys {
		val := values[key]
		applied, err := d.apply(key, val)
		switch {
		case !applied:
			d.Unknown = append(d.Unknown, key)
		case err != nil:
			d.Rejected[key] = err.Error()
		default:
			d.Raw[key] = val
		}
	}
	return d, nil
}

// apply sets the field for key. It reports false when the key is unknown.
func (d *Delta) apply(key, val string) (bool, error) {
	var err error
	switch key {
	case KeyTransactionSampleRate:
		var f float64
		if f, err = parseSampleRate(val); err == nil {
			d.TransactionSampleRate = &f
		}
	case KeyCaptureBody:
		var cb CaptureBody
		if cb, err = parseCaptureBody(val); err == nil {
			d.CaptureBody = &cb
		}
	case KeyCaptureBodyContentTypes:
		d.CaptureBodyContentTypes = parseList(val)
	case KeyCaptureHeaders:
		d.CaptureHeaders, err = boolPtr(val)
	case KeyLogLevel:
		var lvl slog.Level
		if lvl, err = logutil.ParseLevel(val); err == nil {
			d.LogLevel = &lvl
		}
	case KeyRecording:
		d.Recording, err = boolPtr(val)
	case KeySpanFramesMinDuration:
		d.SpanFramesMinDuration, err = durationPtr(val, "ms")
	case KeyStackTraceLimit:
		d.StackTraceLimit, err = intPtr(val)
	case KeyTransactionMaxSpans:
		d.TransactionMaxSpans, err = intPtr(val)
	case KeyTransactionIgnoreURLs:
		d.TransactionIgnoreURLs = parseList(val)
	case KeyIgnoreMessageQueues:
		d.IgnoreMessageQueues = parseList(val)
	case KeySanitizeFieldNames:
		d.SanitizeFieldNames = parseList(val)
	case KeySpanStackTraceMinDuration:
		d.SpanStackTraceMinDuration, err = durationPtr(val, "ms")
	case KeyExitSpanMinDuration:
		d.ExitSpanMinDuration, err = durationPtr(val, "ms")
	case KeyTraceContinuationStrategy:
		var s string
		if s, err = parseContinuationStrategy(val); err == nil {
			d.TraceContinuationStrategy = &s
		}
	case KeySpanCompressionEnabled:
		d.SpanCompressionEnabled, err = boolPtr(val)
	case KeySpanCompressionExactMatchMaxDuration:
		d.SpanCompressionExactMatchMaxDuration, err = durationPtr(val, "ms")
	case KeySpanCompressionSameKindMaxDuration:
		d.SpanCompressionSameKindMaxDuration, err = durationPtr(val, "ms")
	default:
		return false, nil
	}
	return true, err
}

func boolPtr(v string) (*bool, error) {
	b, err := parseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func intPtr(v string) (*int, error) {
	i, err := parseInt(v)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func durationPtr(v, unit string) (*time.Duration, error) {
	d, err := parseDuration(v, unit)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
