package main

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
)

// zlogger adapts a zerolog.Logger to logger.Logger.
type zlogger struct {
	zl zerolog.Logger
}

var _ logger.Logger = zlogger{}

// newLogger builds the CLI logger. Format "json" writes one JSON object per
// line; anything else uses the zerolog console writer.
func newLogger(w io.Writer, level, format string) logger.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zlogger{zl: zerolog.New(out).Level(lvl).With().Timestamp().Logger()}
}

func (l zlogger) With(fields ...logger.Field) logger.Logger {
	if len(fields) == 0 {
		return l
	}
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return zlogger{zl: ctx.Logger()}
}

func (l zlogger) Debug(msg string, fields ...logger.Field) { emit(l.zl.Debug(), msg, fields) }
func (l zlogger) Info(msg string, fields ...logger.Field)  { emit(l.zl.Info(), msg, fields) }
func (l zlogger) Warn(msg string, fields ...logger.Field)  { emit(l.zl.Warn(), msg, fields) }
func (l zlogger) Error(msg string, fields ...logger.Field) { emit(l.zl.Error(), msg, fields) }

func emit(ev *zerolog.Event, msg string, fields []logger.Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			ev = ev.AnErr(f.Key, err)
			continue
		}
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}
