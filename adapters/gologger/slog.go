package gologger

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// LevelTrace and LevelFatal extend the slog levels for the glog methods slog
// has no name for.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// SlogProvider hands out glog loggers that write through one slog handler.
type SlogProvider struct {
	handler slog.Handler
}

// NewSlogProvider writes JSON records to w at the given minimum level.
func NewSlogProvider(w io.Writer, level slog.Level) *SlogProvider {
	return NewSlogProviderFromHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func NewSlogProviderFromHandler(handler slog.Handler) *SlogProvider {
	if handler == nil {
		handler = slog.NewJSONHandler(io.Discard, nil)
	}
	return &SlogProvider{handler: handler}
}

func (p *SlogProvider) GetLogger(name string) glog.Logger {
	logger := slog.New(p.handler)
	if name = strings.TrimSpace(name); name != "" {
		logger = logger.With("logger", name)
	}
	return &slogLogger{logger: logger, ctx: context.Background()}
}

// ParseLevel maps a level name to its slog level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func (l *slogLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args) }
func (l *slogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

// Fatal records at LevelFatal. It does not exit the process.
func (l *slogLogger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args) }

func (l *slogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &slogLogger{logger: l.logger, ctx: ctx}
}

func (l *slogLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &slogLogger{logger: l.logger.With(args...), ctx: l.ctx}
}

func (l *slogLogger) log(level slog.Level, msg string, args []any) {
	l.logger.Log(l.ctx, level, msg, args...)
}

var (
	_ glog.LoggerProvider = (*SlogProvider)(nil)
	_ glog.Logger         = (*slogLogger)(nil)
	_ glog.FieldsLogger   = (*slogLogger)(nil)
)
