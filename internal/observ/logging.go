package observ

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init installs the process-wide structured logger. Call once during
// service startup, before any component logs.
func Init(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l.Sugar()
}

// NewLogger builds a zap logger at the given level ("debug", "info",
// "warn", "error"), JSON-encoded to stdout, one line per event.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl
	return cfg.Build()
}

// Log emits a structured info-level event. kv is flattened as zap fields.
func Log(event string, kv map[string]any) {
	current().Infow(event, flatten(kv)...)
}

// Warn emits a structured warn-level event, used for dropped/malformed
// payloads per §7.
func Warn(event string, kv map[string]any) {
	current().Warnw(event, flatten(kv)...)
}

// Error emits a structured error-level event, used for persistence and
// RPC failures per §7.
func Error(event string, kv map[string]any) {
	current().Errorw(event, flatten(kv)...)
}

// Fatal emits a structured fatal-level event and terminates the process,
// used for InvariantViolation per §7.
func Fatal(event string, kv map[string]any) {
	current().Fatalw(event, flatten(kv)...)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func flatten(kv map[string]any) []any {
	out := make([]any, 0, len(kv)*2)
	for k, v := range kv {
		out = append(out, k, v)
	}
	return out
}
