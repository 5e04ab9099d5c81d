// Package report is the single channel for progress and non-fatal
// diagnostics emitted by the crawl core.
package report

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"blogcrawler/internal/config"
)

// Reporter receives progress and diagnostics as a message plus key/value
// pairs.
type Reporter interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// BuildLogger constructs a zap logger from the logging configuration.
func BuildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	var zc zap.Config
	if cfg.Structured {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

type zapReporter struct {
	log *zap.SugaredLogger
}

// NewZap adapts a zap logger into a Reporter.
func NewZap(logger *zap.Logger) Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapReporter{log: logger.Sugar()}
}

func (r *zapReporter) Debug(msg string, kv ...any) { r.log.Debugw(msg, kv...) }
func (r *zapReporter) Info(msg string, kv ...any)  { r.log.Infow(msg, kv...) }
func (r *zapReporter) Warn(msg string, kv ...any)  { r.log.Warnw(msg, kv...) }
func (r *zapReporter) Error(msg string, kv ...any) { r.log.Errorw(msg, kv...) }

type nop struct{}

// Nop discards everything.
func Nop() Reporter { return nop{} }

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Entry is one message captured by a Recorder.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// Recorder keeps every message in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Debug(msg string, kv ...any) { r.add("debug", msg, kv) }
func (r *Recorder) Info(msg string, kv ...any)  { r.add("info", msg, kv) }
func (r *Recorder) Warn(msg string, kv ...any)  { r.add("warn", msg, kv) }
func (r *Recorder) Error(msg string, kv ...any) { r.add("error", msg, kv) }

func (r *Recorder) add(level, msg string, kv []any) {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Fields: fields})
	r.mu.Unlock()
}

// Entries returns a copy of what has been recorded.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Messages returns recorded messages at the given level, or all when level
// is empty.
func (r *Recorder) Messages(level string) []string {
	var out []string
	for _, e := range r.Entries() {
		if level == "" || e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}
