// Package txlog is the write-ahead intent journal: a single file per
// repository recording the intent to perform an operation before that
// operation begins, distinct from the session store (spec §4.C).
package txlog

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rebasectl/rebasectl/internal/kvstore"
)

// TTLMs is how long an intent may remain before it is considered stale and
// garbage-collected (spec: "one hour").
const TTLMs = int64(60 * 60 * 1000)

// IntentType enumerates the operations an intent can record.
type IntentType string

const (
	IntentContinue   IntentType = "continue"
	IntentAbort      IntentType = "abort"
	IntentExecuteJob IntentType = "execute-job"
	IntentFinalize   IntentType = "finalize"
)

// IntentStatus is the lifecycle of a single intent record.
type IntentStatus string

const (
	StatusPending   IntentStatus = "pending"
	StatusExecuting IntentStatus = "executing"
	StatusCompleted IntentStatus = "completed"
	StatusFailed    IntentStatus = "failed"
)

// Intent is the on-disk shape of one in-flight operation record.
type Intent struct {
	ID                  string
	Type                IntentType
	Status              IntentStatus
	CreatedAtMs         int64
	UpdatedAtMs         int64
	ExpectedStateBefore string
	Context             string
	Error               string
}

const intentKeyPrefix = "intent/"

// Log is the per-repository intent journal, one file per repo key.
type Log struct {
	kv    *kvstore.Store
	nowMs func() int64
}

// Open returns a Log backed by a kvstore rooted at baseDir.
func Open(baseDir string, nowMs func() int64) (*Log, error) {
	kv, err := kvstore.Open(filepath.Join(baseDir, "txlog"))
	if err != nil {
		return nil, fmt.Errorf("txlog: %w", err)
	}
	return &Log{kv: kv, nowMs: nowMs}, nil
}

func key(repoKey string) string {
	return intentKeyPrefix + repoKey
}

// WriteIntent records a new pending intent, overwriting any prior record
// for repoKey (recovery is expected to have already cleared stale ones).
func (l *Log) WriteIntent(repoKey string, id string, typ IntentType) (*Intent, error) {
	now := l.nowMs()
	intent := &Intent{
		ID:          id,
		Type:        typ,
		Status:      StatusPending,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := l.kv.Put(key(repoKey), intent); err != nil {
		return nil, fmt.Errorf("txlog: writing intent for %s: %w", repoKey, err)
	}
	return intent, nil
}

// MarkExecuting transitions the stored intent to executing, recording an
// opaque context string (e.g. the job id in flight).
func (l *Log) MarkExecuting(repoKey, context string) error {
	return l.update(repoKey, func(i *Intent) {
		i.Status = StatusExecuting
		i.Context = context
	})
}

// MarkCompleted transitions the stored intent to completed. The record is
// not removed yet: Clear does that, and its absence between mark and clear
// is exactly the crash window recovery must detect (spec §4.C lifecycle).
func (l *Log) MarkCompleted(repoKey string) error {
	return l.update(repoKey, func(i *Intent) {
		i.Status = StatusCompleted
	})
}

// MarkFailed transitions the stored intent to failed, recording errMsg.
func (l *Log) MarkFailed(repoKey, errMsg string) error {
	return l.update(repoKey, func(i *Intent) {
		i.Status = StatusFailed
		i.Error = errMsg
	})
}

func (l *Log) update(repoKey string, mutate func(*Intent)) error {
	intent, err := l.Get(repoKey)
	if err != nil {
		return err
	}
	if intent == nil {
		return fmt.Errorf("txlog: no intent recorded for %s", repoKey)
	}
	mutate(intent)
	intent.UpdatedAtMs = l.nowMs()
	if err := l.kv.Put(key(repoKey), intent); err != nil {
		return fmt.Errorf("txlog: updating intent for %s: %w", repoKey, err)
	}
	return nil
}

// Get returns the intent recorded for repoKey, or nil if none exists.
func (l *Log) Get(repoKey string) (*Intent, error) {
	var intent Intent
	err := l.kv.Get(key(repoKey), &intent)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("txlog: reading intent for %s: %w", repoKey, err)
	}
	return &intent, nil
}

// Clear deletes the intent record for repoKey (delete-to-commit).
func (l *Log) Clear(repoKey string) error {
	if err := l.kv.Delete(key(repoKey)); err != nil {
		return fmt.Errorf("txlog: clearing intent for %s: %w", repoKey, err)
	}
	return nil
}

// RecoveryAction is what the caller should do after Recover inspects the
// on-disk intent for repoKey.
type RecoveryAction string

const (
	// ActionNone means there was nothing to recover.
	ActionNone RecoveryAction = "none"
	// ActionCleared means a stale/terminal intent was cleared; no further
	// action needed.
	ActionCleared RecoveryAction = "cleared"
	// ActionConsultTool means status was "executing" and the caller must
	// consult the VCS adapter's observable rebase state before deciding
	// whether to resume conflict handling or hand off to reconciliation.
	ActionConsultTool RecoveryAction = "consult-tool"
)

// Recover inspects the stored intent for repoKey and applies spec §4.C's
// recovery rules, returning what the caller should do next.
func (l *Log) Recover(repoKey string) (RecoveryAction, *Intent, error) {
	intent, err := l.Get(repoKey)
	if err != nil {
		return ActionNone, nil, err
	}
	if intent == nil {
		return ActionNone, nil, nil
	}

	age := l.nowMs() - intent.CreatedAtMs
	if age > TTLMs {
		if err := l.Clear(repoKey); err != nil {
			return ActionNone, nil, err
		}
		return ActionCleared, intent, nil
	}

	switch intent.Status {
	case StatusCompleted, StatusPending, StatusFailed:
		if err := l.Clear(repoKey); err != nil {
			return ActionNone, nil, err
		}
		return ActionCleared, intent, nil
	case StatusExecuting:
		return ActionConsultTool, intent, nil
	default:
		return ActionNone, intent, nil
	}
}
