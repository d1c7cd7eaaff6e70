package centralconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Category classifies why a fetch failed.
type Category int

const (
	// Transient covers network failures and timeouts.
	Transient Category = iota
	// Protocol covers unexpected statuses and responses missing required headers.
	Protocol
	// Parse covers bodies that could not be decoded.
	Parse
	// Misconfiguration covers requests the server rejected as invalid.
	Misconfiguration
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Protocol:
		return "protocol"
	case Parse:
		return "parse"
	case Misconfiguration:
		return "misconfiguration"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

var ErrMissingETag = errors.New("response does not contain an ETag header")

// FetchError is the outcome of a failed fetch. It carries the wait the
// poller should apply before trying again.
type FetchError struct {
	Category      Category
	StatusCode    int
	SuggestedWait time.Duration
	Msg           string
	Err           error
}

func (e *FetchError) Error() string {
	msg := e.Msg
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Level is the severity the failure is logged at. Forbidden and not found
// responses are expected while an APM server is being upgraded or has the
// feature turned off, so they are logged below error.
func (e *FetchError) Level() slog.Level {
	switch e.StatusCode {
	case http.StatusForbidden, http.StatusNotFound:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func statusError(code int, body string, wait time.Duration) *FetchError {
	fe := &FetchError{
		Category:      Protocol,
		StatusCode:    code,
		SuggestedWait: wait,
	}
	switch code {
	case http.StatusBadRequest:
		fe.Category = Misconfiguration
		fe.Msg = "the APM server rejected the central configuration request as invalid"
	case http.StatusForbidden:
		fe.Msg = "central configuration is disabled in the APM server"
	case http.StatusNotFound:
		fe.Msg = "this APM server version does not support central configuration"
	case http.StatusServiceUnavailable:
		fe.Category = Transient
		fe.Msg = "the APM server cannot reach the backend holding central configuration"
	default:
		fe.Msg = "unexpected response fetching central configuration"
	}
	if body != "" {
		fe.Err = fmt.Errorf("server response: %s", body)
	}
	return fe
}
