// Package reconcile aligns recorded session state with the VCS tool's
// observable state on every read, the only path that legitimately clears a
// session without an explicit user action or a successful execution finish
// (spec §4.H).
package reconcile

import (
	"context"
	"fmt"

	"github.com/rebasectl/rebasectl/internal/sessionstore"
	"github.com/rebasectl/rebasectl/internal/statemachine"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
)

// Outcome reports what reconciliation did for a single repository key.
type Outcome string

const (
	// OutcomeNoChange means the recorded and observed state already agree.
	OutcomeNoChange Outcome = "no-change"
	// OutcomeExternalCompletion means an active job finished outside the
	// engine's control; the session was advanced and persisted.
	OutcomeExternalCompletion Outcome = "external-completion"
	// OutcomeOrphanedRebase means the tool is rebasing but no session is
	// recorded; nothing was touched, the caller must surface the working
	// directory's state as-is.
	OutcomeOrphanedRebase Outcome = "orphaned-rebase"
	// OutcomeCleared means a fully-drained session with no active tool
	// activity was removed.
	OutcomeCleared Outcome = "cleared"
)

// Reconcile inspects the session recorded for key against the adapter's
// observable state at execPath and applies spec §4.H's rules, returning
// what it did and the resulting (possibly nil) session.
func Reconcile(ctx context.Context, adapter vcsadapter.Adapter, store *sessionstore.Store, key, execPath string, nowMs int64) (Outcome, *sessionstore.StoredSession, error) {
	session, err := store.Get(key)
	if err != nil {
		return OutcomeNoChange, nil, fmt.Errorf("reconcile: loading session for %s: %w", key, err)
	}

	toolState, err := adapter.GetRebaseState(ctx, execPath)
	if err != nil {
		return OutcomeNoChange, nil, fmt.Errorf("reconcile: reading tool rebase state for %s: %w", execPath, err)
	}
	isRebasing := toolState != nil

	if session == nil {
		if isRebasing {
			return OutcomeOrphanedRebase, nil, nil
		}
		return OutcomeNoChange, nil, nil
	}

	activeID := session.State.Queue.ActiveJobID

	if activeID != "" && !isRebasing {
		job := session.State.JobsByID[activeID]
		if job == nil {
			return OutcomeNoChange, session, fmt.Errorf("reconcile: active job %s missing from session state", activeID)
		}
		newHead, err := adapter.ResolveRef(ctx, execPath, job.Branch)
		if err != nil {
			return OutcomeNoChange, session, fmt.Errorf("reconcile: resolving head of %s: %w", job.Branch, err)
		}

		nextState := statemachine.Transition(session.State, statemachine.ExternalCompletionDetected{
			JobID:      activeID,
			NewHeadSha: newHead,
			NowMs:      nowMs,
		})
		updated, err := store.Update(key, nextState)
		if err != nil {
			return OutcomeNoChange, session, fmt.Errorf("reconcile: persisting external completion: %w", err)
		}
		return OutcomeExternalCompletion, updated, nil
	}

	if activeID == "" && len(session.State.Queue.PendingJobIDs) == 0 && !isRebasing {
		if err := store.Clear(key); err != nil {
			return OutcomeNoChange, session, fmt.Errorf("reconcile: clearing drained session: %w", err)
		}
		return OutcomeCleared, nil, nil
	}

	return OutcomeNoChange, session, nil
}
