package logging

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger with key/value helpers.
type Logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
}

// Config holds logging configuration
type Config struct {
	Level     string
	Format    string // "json" or "console"
	Output    string // "stdout", "stderr" or a file path
	AddCaller bool
	AddStack  bool
}

// DefaultConfig logs info and above as console text to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", Output: "stderr"}
}

// NewLogger creates a new structured logger
func NewLogger(config Config) (*Logger, error) {
	if config.Format == "" {
		config.Format = "console"
	}
	if config.Output == "" {
		config.Output = "stderr"
	}

	level := parseZapLevel(config.Level)
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = level
	zapConfig.Encoding = config.Format
	zapConfig.OutputPaths = []string{config.Output}
	zapConfig.ErrorOutputPaths = []string{config.Output}
	zapConfig.DisableCaller = !config.AddCaller
	zapConfig.DisableStacktrace = !config.AddStack
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{zap: zapLogger, level: level}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

// New wraps an existing zap logger.
func New(z *zap.Logger) *Logger {
	return &Logger{zap: z, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// parseZapLevel parses zap level from string
func parseZapLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}

// Tee returns a logger that also writes plain console lines to w at the
// same level.
func (l *Logger) Tee(w io.Writer) *Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = ""
	file := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), l.level)
	return &Logger{
		zap: l.zap.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, file)
		})),
		level: l.level,
	}
}

// WithRunID adds run ID to logger context
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{zap: l.zap.With(zap.String("run_id", runID)), level: l.level}
}

// WithFields adds fields to logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	return &Logger{zap: l.zap.With(zapFields...), level: l.level}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.zap.Debug(msg, convertToZapFields(args)...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.zap.Info(msg, convertToZapFields(args)...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.zap.Warn(msg, convertToZapFields(args)...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.zap.Error(msg, convertToZapFields(args)...)
}

// convertToZapFields converts interface{} args to zap.Field
func convertToZapFields(args []interface{}) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields = append(fields, zap.Any(key, args[i+1]))
		}
	}
	return fields
}

// LogEvaluation logs one search evaluation: every 25th at info, the rest at
// debug.
func (l *Logger) LogEvaluation(i, n, feasible int, verdict, dominant, phase string) {
	log := l.zap.Debug
	if i%25 == 0 {
		log = l.zap.Info
	}
	log("evaluation",
		zap.Int("i", i),
		zap.Int("n", n),
		zap.Int("n_feasible", feasible),
		zap.String("verdict", verdict),
		zap.String("dominant", dominant),
		zap.String("phase", phase),
	)
}

// LogRunCompleted logs the end of a run.
func (l *Logger) LogRunCompleted(runID string, evaluations, feasible int, elapsed time.Duration) {
	l.zap.Info("run completed",
		zap.String("run_id", runID),
		zap.Int("evaluations", evaluations),
		zap.Int("n_feasible", feasible),
		zap.Float64("elapsed_s", elapsed.Seconds()),
	)
}

// LogCircuitBreaker logs a circuit breaker state change
func (l *Logger) LogCircuitBreaker(name, from, to string) {
	l.zap.Warn("Circuit breaker state changed",
		zap.String("breaker", name),
		zap.String("from", from),
		zap.String("to", to),
	)
}

// Sync syncs the logger
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

