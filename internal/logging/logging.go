// Package logging provides categorized, level-filtered logging for Iris.
// Logs always go to the fixed path /tmp/iris.log because the terminal UI
// holds the tty in raw mode (spec §6); there is no stdout/stderr sink.
//
// The category taxonomy follows the teacher's internal/logging package
// (one category per subsystem), but the per-category file-writer is
// replaced with a single zap.Logger core so every category shares one
// structured JSON sink instead of N bespoke files.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one subsystem's log stream.
type Category string

const (
	CategoryBoot        Category = "boot"
	CategoryScheduler   Category = "scheduler"
	CategorySensory     Category = "sensory"
	CategoryThalamic    Category = "thalamic"
	CategoryCognition   Category = "cognition"
	CategoryCapability  Category = "capability"
	CategoryLLMRouter   Category = "llmrouter"
	CategoryMemory      Category = "memory"
	CategoryResource    Category = "resource"
	CategoryAffect      Category = "affect"
	CategoryStore       Category = "store"
)

const defaultLogPath = "/tmp/iris.log"

var (
	once   sync.Once
	base   *zap.Logger
	levels map[string]zapcore.Level
	global zapcore.Level
)

// Init parses a RUST_LOG-style filter (e.g. "info,scheduler=debug,memory=warn")
// and opens the fixed log file. Safe to call multiple times; only the first
// call takes effect.
func Init(filter string) {
	once.Do(func() {
		global, levels = parseFilter(filter)

		f, err := os.OpenFile(defaultLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		var ws zapcore.WriteSyncer
		if err != nil {
			// Fall back to discard rather than touch stdout/stderr, which
			// the TUI owns in raw mode.
			ws = zapcore.AddSync(io.Discard)
		} else {
			ws = zapcore.AddSync(f)
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "ts"
		core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, zapcore.DebugLevel)
		base = zap.New(core)
	})
}

func parseFilter(filter string) (zapcore.Level, map[string]zapcore.Level) {
	lv := make(map[string]zapcore.Level)
	g := zapcore.InfoLevel
	if filter == "" {
		return g, lv
	}
	for _, part := range strings.Split(filter, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "=") {
			g = parseLevel(part, g)
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		lv[strings.TrimSpace(kv[0])] = parseLevel(strings.TrimSpace(kv[1]), zapcore.InfoLevel)
	}
	return g, lv
}

func parseLevel(s string, fallback zapcore.Level) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return fallback
	}
}

// Logger returns a *zap.Logger scoped to category, honoring the filter's
// per-category level override (falling back to the global level).
func Logger(cat Category) *zap.Logger {
	Init(os.Getenv("RUST_LOG"))
	lvl := global
	if override, ok := levels[string(cat)]; ok {
		lvl = override
	}
	return base.WithOptions(zap.IncreaseLevel(lvl)).With(zap.String("category", string(cat)))
}
