package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	appctx "github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/context"
)

var Log zerolog.Logger

// Init configures the process-wide logger. format is "json" or "console";
// unknown levels fall back to info.
func Init(level, format string) {
	InitWithWriter(os.Stdout, level, format)
}

func InitWithWriter(w io.Writer, level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if format == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(lvl)
	} else {
		l = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	}

	Log = l
	zlog.Logger = l
}

// Component returns a child logger tagged for a long-lived component.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// WithCtx returns the global logger with the request id attached when the
// context carries one.
func WithCtx(ctx context.Context) zerolog.Logger {
	if rid := appctx.GetRequestID(ctx); rid != "" {
		return Log.With().Str("request_id", rid).Logger()
	}
	return Log
}
