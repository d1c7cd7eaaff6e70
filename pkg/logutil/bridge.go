package logutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type goKitBridge struct {
	logger *slog.Logger
}

var _ log.Logger = (*goKitBridge)(nil)

// NewGoKitLogger adapts an slog logger to the go-kit interface used by dskit.
func NewGoKitLogger(logger *slog.Logger) log.Logger {
	return &goKitBridge{logger: logger}
}

func (b *goKitBridge) Log(keyvals ...any) error {
	lvl := slog.LevelInfo
	msg := ""
	attrs := make([]any, 0, len(keyvals))
	for i := 0; i < len(keyvals); i += 2 {
		k := fmt.Sprint(keyvals[i])
		var v any = log.ErrMissingValue
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch {
		case keyvals[i] == level.Key():
			lvl = goKitLevel(v)
		case k == "msg":
			msg = fmt.Sprint(v)
		default:
			attrs = append(attrs, k, v)
		}
	}
	b.logger.Log(context.Background(), lvl, msg, attrs...)
	return nil
}

func goKitLevel(v any) slog.Level {
	lv, ok := v.(level.Value)
	if !ok {
		return slog.LevelInfo
	}
	switch lv.String() {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
