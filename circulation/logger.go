package circulation

// Logger is the logging interface consumed across the engine. It matches the
// log/slog argument convention so a *slog.Logger satisfies it directly.
//
// Debug level: SQL queries with execution timing (development use)
// Info level: operation outcomes, sweep counts, retry exhaustion (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: failures that cause an operation to be rejected as StorageUnavailable.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
