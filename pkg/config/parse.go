package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

func parseCaptureBody(v string) (CaptureBody, error) {
	switch cb := CaptureBody(strings.ToLower(strings.TrimSpace(v))); cb {
	case CaptureBodyOff, CaptureBodyErrors, CaptureBodyTransactions, CaptureBodyAll:
		return cb, nil
	default:
		return "", fmt.Errorf("invalid capture_body %q", v)
	}
}

func parseContinuationStrategy(v string) (string, error) {
	switch s := strings.ToLower(strings.TrimSpace(v)); s {
	case "continue", "restart", "restart_external":
		return s, nil
	default:
		return "", fmt.Errorf("invalid trace_continuation_strategy %q", v)
	}
}

// parseSampleRate accepts values in [0,1] rounded to four decimal places.
// Positive values that would round to zero are kept at the smallest
// representable rate so sampling is never disabled by rounding alone.
func parseSampleRate(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sample rate %q: %w", v, err)
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, fmt.Errorf("sample rate %q out of range [0,1]", v)
	}
	return roundSampleRate(f), nil
}

func roundSampleRate(f float64) float64 {
	if f > 0 && f < 0.0001 {
		return 0.0001
	}
	return math.Round(f*10000) / 10000
}

// parseDuration parses durations such as "5ms", "1s" or "2m". A bare number
// is interpreted in defaultUnit.
func parseDuration(v string, defaultUnit string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		v += defaultUnit
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}

func parseBool(v string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

func parseInt(v string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return i, nil
}

// parseList splits a comma separated list. An empty input yields an empty,
// non-nil slice so an explicit override to "nothing" is distinguishable from
// no override at all.
func parseList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
