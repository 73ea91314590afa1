package telemetry

import "testing"

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	l := Noop()
	l.Info("plan started", RepoField("/repo"), JobField("j1"))
	l.With(BranchField("feat/a")).Warn("retrying", AttemptField(2))
	if err := l.Sync(); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
}

func TestNewDevelopmentProducesLogger(t *testing.T) {
	l, err := NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("hello")
}
