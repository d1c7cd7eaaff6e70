package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	attrMethod = "method"
)

const (
	LevelTrace    = slog.Level(-8)
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelWarning  = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
	// LevelOff is above every level a record is emitted at.
	LevelOff = slog.Level(64)
)

const (
	colorBlueIntense      = 12
	colorRedIntense       = 9
	colorLightBlueIntense = 14
	colorIndigoIntense    = 13
	colorGreenIntense     = 10
	colorWhiteIntense     = 15
)

func WithMethod(logger *slog.Logger, method string) *slog.Logger {
	return logger.With(attrMethod, method)
}

// ParseLevel maps agent log level names to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "information":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical":
		return LevelCritical, nil
	case "off", "none":
		return LevelOff, nil
	default:
		return LevelError, fmt.Errorf("invalid log level %q", s)
	}
}

// New builds a tint logger writing to w. The leveler is consulted for every
// record, so passing the configuration store makes the level follow central
// configuration updates.
func New(w io.Writer, leveler slog.Leveler) *slog.Logger {
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:       leveler,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: replaceAttr,
		}),
	)
}

func replaceAttr(groups []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.LevelKey {
		level := attr.Value.Any().(slog.Level)
		switch {
		case level < LevelDebug:
			attr.Value = slog.StringValue("TRACE")
		case level >= LevelCritical:
			attr.Value = slog.StringValue("CRIT")
		}
	}

	if attr.Key == attrMethod {
		switch attr.Value.String() {
		case http.MethodConnect:
			return attr
		case http.MethodGet:
			return tint.Attr(colorBlueIntense, attr)
		case http.MethodDelete:
			return tint.Attr(colorRedIntense, attr)
		case http.MethodPost:
			return tint.Attr(colorLightBlueIntense, attr)
		case http.MethodPatch:
			return tint.Attr(colorIndigoIntense, attr)
		case http.MethodPut:
			return tint.Attr(colorGreenIntense, attr)
		case http.MethodTrace:
			return tint.Attr(colorWhiteIntense, attr)
		}
	}
	return attr
}

func init() {
	slog.SetDefault(New(os.Stderr, LevelTrace))
}
