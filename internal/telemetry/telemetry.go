// Package telemetry provides the structured logger used across the engine.
// The teacher logs with bare fmt.Fprintf(os.Stderr, ...); a daemon running
// one executor per repository concurrently needs leveled, greppable,
// structured events instead, so this wraps go.uber.org/zap the way
// ardikabs-hibernator's runner does (zap.NewProduction/NewDevelopment).
package telemetry

import (
	"go.uber.org/zap"
)

// Logger is the narrow logging surface the rest of the engine depends on,
// so packages don't import zap directly and tests can substitute a no-op.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Sync() error
}

type zapLogger struct {
	l *zap.Logger
}

// New returns a production-configured Logger (JSON output, info level).
func New() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{l: l}, nil
}

// NewDevelopment returns a human-readable, debug-level Logger for local
// CLI runs (rebasectl's default outside of a daemon context).
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{l: l}, nil
}

// Noop returns a Logger that discards everything, for tests that don't
// care about log output but still need to satisfy the interface.
func Noop() Logger {
	return &zapLogger{l: zap.NewNop()}
}

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) Sync() error                           { return z.l.Sync() }

func (z *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

// RepoField and JobField are the two keys every executor/reconciler log line
// carries, kept as helpers so field names stay consistent everywhere.
func RepoField(repoPath string) zap.Field { return zap.String("repo", repoPath) }
func JobField(jobID string) zap.Field     { return zap.String("job_id", jobID) }
func BranchField(branch string) zap.Field { return zap.String("branch", branch) }
func AttemptField(n int) zap.Field        { return zap.Int("attempt", n) }
