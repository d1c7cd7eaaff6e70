package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"
)

const StaticDescription = "static configuration"

// Snapshot is an immutable view over the agent configuration. It is either
// the static base alone or the base plus one central configuration delta.
// Snapshots are never nested: WithDelta always wraps the original base
// options, so every lookup is at most one level deep.
type Snapshot struct {
	base  *Options
	delta *Delta
	// origin describes the base options.
	origin string
}

// NewSnapshot builds the base snapshot. The options are copied so later
// changes by the caller are not observed.
func NewSnapshot(opts Options, origin string) *Snapshot {
	if origin == "" {
		origin = StaticDescription
	}
	o := opts
	o.ServerURLs = slices.Clone(opts.ServerURLs)
	o.CaptureBodyContentTypes = slices.Clone(opts.CaptureBodyContentTypes)
	o.TransactionIgnoreURLs = slices.Clone(opts.TransactionIgnoreURLs)
	o.IgnoreMessageQueues = slices.Clone(opts.IgnoreMessageQueues)
	o.SanitizeFieldNames = slices.Clone(opts.SanitizeFieldNames)
	return &Snapshot{base: &o, origin: origin}
}

// WithDelta returns a snapshot layering d over the base options of s. A nil
// delta yields a snapshot equivalent to the base.
func (s *Snapshot) WithDelta(d *Delta) *Snapshot {
	return &Snapshot{base: s.base, delta: d, origin: s.origin}
}

// Base returns the snapshot of the static options s was derived from.
func (s *Snapshot) Base() *Snapshot {
	if s.delta == nil {
		return s
	}
	return &Snapshot{base: s.base, origin: s.origin}
}

// Description describes where the snapshot's values came from.
func (s *Snapshot) Description() string {
	if s.delta == nil {
		return s.origin
	}
	return fmt.Sprintf("%s + central configuration (etag %s)", s.origin, s.delta.ETag)
}

// ETag is the tag of the central configuration fetch that produced the
// snapshot, or empty for the static snapshot.
func (s *Snapshot) ETag() string {
	if s.delta == nil {
		return ""
	}
	return s.delta.ETag
}

// Delta returns the central configuration layered over the base, if any.
func (s *Snapshot) Delta() *Delta { return s.delta }

func (s *Snapshot) ServiceName() string    { return s.base.ServiceName }
func (s *Snapshot) ServiceVersion() string { return s.base.ServiceVersion }
func (s *Snapshot) Environment() string    { return s.base.Environment }
func (s *Snapshot) ServerURLs() []string   { return slices.Clone(s.base.ServerURLs) }
func (s *Snapshot) SecretToken() string    { return s.base.SecretToken }
func (s *Snapshot) APIKey() string         { return s.base.APIKey }
func (s *Snapshot) Enabled() bool          { return s.base.Enabled }
func (s *Snapshot) CentralConfig() bool    { return s.base.CentralConfig }
func (s *Snapshot) StoragePath() string    { return s.base.StoragePath }

// ServerURL is the first configured server URL.
func (s *Snapshot) ServerURL() (*url.URL, error) { return s.base.ServerURL() }

func (s *Snapshot) TransactionSampleRate() float64 {
	if s.delta != nil && s.delta.TransactionSampleRate != nil {
		return *s.delta.TransactionSampleRate
	}
	return roundSampleRate(s.base.TransactionSampleRate)
}

func (s *Snapshot) CaptureBody() CaptureBody {
	if s.delta != nil && s.delta.CaptureBody != nil {
		return *s.delta.CaptureBody
	}
	return s.base.CaptureBody
}

func (s *Snapshot) CaptureBodyContentTypes() []string {
	if s.delta != nil && s.delta.CaptureBodyContentTypes != nil {
		return slices.Clone(s.delta.CaptureBodyContentTypes)
	}
	return slices.Clone(s.base.CaptureBodyContentTypes)
}

func (s *Snapshot) CaptureHeaders() bool {
	if s.delta != nil && s.delta.CaptureHeaders != nil {
		return *s.delta.CaptureHeaders
	}
	return s.base.CaptureHeaders
}

func (s *Snapshot) LogLevel() slog.Level {
	if s.delta != nil && s.delta.LogLevel != nil {
		return *s.delta.LogLevel
	}
	return s.base.logLevel()
}

func (s *Snapshot) Recording() bool {
	if s.delta != nil && s.delta.Recording != nil {
		return *s.delta.Recording
	}
	return s.base.Recording
}

func (s *Snapshot) SpanFramesMinDuration() time.Duration {
	if s.delta != nil && s.delta.SpanFramesMinDuration != nil {
		return *s.delta.SpanFramesMinDuration
	}
	return s.base.SpanFramesMinDuration
}

func (s *Snapshot) StackTraceLimit() int {
	if s.delta != nil && s.delta.StackTraceLimit != nil {
		return *s.delta.StackTraceLimit
	}
	return s.base.StackTraceLimit
}

func (s *Snapshot) TransactionMaxSpans() int {
	if s.delta != nil && s.delta.TransactionMaxSpans != nil {
		return *s.delta.TransactionMaxSpans
	}
	return s.base.TransactionMaxSpans
}

func (s *Snapshot) TransactionIgnoreURLs() []string {
	if s.delta != nil && s.delta.TransactionIgnoreURLs != nil {
		return slices.Clone(s.delta.TransactionIgnoreURLs)
	}
	return slices.Clone(s.base.TransactionIgnoreURLs)
}

func (s *Snapshot) IgnoreMessageQueues() []string {
	if s.delta != nil && s.delta.IgnoreMessageQueues != nil {
		return slices.Clone(s.delta.IgnoreMessageQueues)
	}
	return slices.Clone(s.base.IgnoreMessageQueues)
}

func (s *Snapshot) SanitizeFieldNames() []string {
	if s.delta != nil && s.delta.SanitizeFieldNames != nil {
		return slices.Clone(s.delta.SanitizeFieldNames)
	}
	return slices.Clone(s.base.SanitizeFieldNames)
}

func (s *Snapshot) SpanStackTraceMinDuration() time.Duration {
	if s.delta != nil && s.delta.SpanStackTraceMinDuration != nil {
		return *s.delta.SpanStackTraceMinDuration
	}
	return s.base.SpanStackTraceMinDuration
}

func (s *Snapshot) ExitSpanMinDuration() time.Duration {
	if s.delta != nil && s.delta.ExitSpanMinDuration != nil {
		return *s.delta.ExitSpanMinDuration
	}
	return s.base.ExitSpanMinDuration
}

func (s *Snapshot) TraceContinuationStrategy() string {
	if s.delta != nil && s.delta.TraceContinuationStrategy != nil {
		return *s.delta.TraceContinuationStrategy
	}
	return s.base.TraceContinuationStrategy
}

func (s *Snapshot) SpanCompressionEnabled() bool {
	if s.delta != nil && s.delta.SpanCompressionEnabled != nil {
		return *s.delta.SpanCompressionEnabled
	}
	return s.base.SpanCompressionEnabled
}

func (s *Snapshot) SpanCompressionExactMatchMaxDuration() time.Duration {
	if s.delta != nil && s.delta.SpanCompressionExactMatchMaxDuration != nil {
		return *s.delta.SpanCompressionExactMatchMaxDuration
	}
	return s.base.SpanCompressionExactMatchMaxDuration
}

func (s *Snapshot) SpanCompressionSameKindMaxDuration() time.Duration {
	if s.delta != nil && s.delta.SpanCompressionSameKindMaxDuration != nil {
		return *s.delta.SpanCompressionSameKindMaxDuration
	}
	return s.base.SpanCompressionSameKindMaxDuration
}
