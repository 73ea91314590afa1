// Package executor drives the VCS adapter through one job at a time,
// materializing pauses on conflict and resumes on user command (spec
// §4.G). Single-threaded per repository; not re-entrant.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rebasectl/rebasectl/internal/execctx"
	"github.com/rebasectl/rebasectl/internal/planner"
	"github.com/rebasectl/rebasectl/internal/sessionstore"
	"github.com/rebasectl/rebasectl/internal/statemachine"
	"github.com/rebasectl/rebasectl/internal/txlog"
	"github.com/rebasectl/rebasectl/internal/validate"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
)

// Status is what one Execute/Continue/Abort/Skip call resolved to.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusPaused     Status = "paused"
	StatusError      Status = "error"
	StatusPushFailed Status = "push-failed"
)

// Result is the outcome of a driven operation.
type Result struct {
	Status         Status
	Conflicts      []string
	ExecutionPath  string
	Error          string
	PushedBranches []string
	FailedPushes   []string
}

// Executor ties together the adapter, execution-context service, session
// store and transaction log to drive a plan job by job.
type Executor struct {
	Adapter  vcsadapter.Adapter
	ExecCtx  *execctx.Service
	Sessions *sessionstore.Store
	TxLog    *txlog.Log
	NowMs    func() int64
	IDGen    planner.IDGen
}

// Execute installs a freshly planned session and runs it to completion, a
// conflict pause, or a hard failure.
func (e *Executor) Execute(ctx context.Context, repoPath string, plan *planner.RebasePlan, originalBranch string) (Result, error) {
	key := sessionstore.CanonicalKey(repoPath)

	startState := statemachine.Transition(plan.State, statemachine.StartPlan{NowMs: e.NowMs()})
	if _, err := e.Sessions.Create(key, plan.Intent, startState, originalBranch); err != nil {
		return Result{}, fmt.Errorf("executor: installing session: %w", err)
	}

	return e.runLoop(ctx, repoPath, key)
}

// Continue resumes a paused job after the user has resolved its conflict.
func (e *Executor) Continue(ctx context.Context, repoPath string) (Result, error) {
	key := sessionstore.CanonicalKey(repoPath)
	session, err := e.Sessions.Get(key)
	if err != nil {
		return Result{}, fmt.Errorf("executor: loading session: %w", err)
	}
	if session == nil {
		return Result{}, fmt.Errorf("executor: no session to continue for %s", repoPath)
	}

	stored, err := e.ExecCtx.StoredContext(repoPath)
	if err != nil {
		return Result{}, fmt.Errorf("executor: loading stored context: %w", err)
	}
	if stored == nil {
		return Result{}, fmt.Errorf("executor: no stored execution context for %s", repoPath)
	}

	activeID := session.State.Queue.ActiveJobID
	if activeID == "" {
		return Result{}, fmt.Errorf("executor: no active job to continue for %s", repoPath)
	}

	result, err := e.Adapter.RebaseContinue(ctx, stored.ExecutionPath)
	if err != nil {
		return Result{}, fmt.Errorf("executor: rebase --continue: %w", err)
	}
	res, err := e.advanceFromResult(ctx, repoPath, key, stored.ExecutionPath, activeID, result)
	if err != nil || res.Status != StatusSuccess {
		return res, err
	}
	return e.runLoop(ctx, repoPath, key)
}

// Resume re-enters the job loop for an existing session without invoking
// `rebase --continue` first, for the case where reconciliation has already
// brought the recorded state in line with the tool's observable state (a
// job finished externally, or the process restarted between jobs) and the
// active job, if any, needs nothing more than a normal drive-to-completion.
func (e *Executor) Resume(ctx context.Context, repoPath string) (Result, error) {
	key := sessionstore.CanonicalKey(repoPath)
	session, err := e.Sessions.Get(key)
	if err != nil {
		return Result{}, fmt.Errorf("executor: loading session: %w", err)
	}
	if session == nil {
		return Result{}, fmt.Errorf("executor: no session to resume for %s", repoPath)
	}
	if session.State.Session.Status == statemachine.SessionPaused {
		return Result{Status: StatusPaused}, nil
	}
	return e.runLoop(ctx, repoPath, key)
}

// Abort unwinds the active rebase, restores any detached worktrees, and
// clears the session.
func (e *Executor) Abort(ctx context.Context, repoPath string) error {
	key := sessionstore.CanonicalKey(repoPath)
	session, err := e.Sessions.Get(key)
	if err != nil {
		return fmt.Errorf("executor: loading session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("executor: no session to abort for %s", repoPath)
	}

	stored, err := e.ExecCtx.StoredContext(repoPath)
	if err != nil {
		return fmt.Errorf("executor: loading stored context: %w", err)
	}
	if stored != nil {
		if err := e.Adapter.RebaseAbort(ctx, stored.ExecutionPath); err != nil {
			return fmt.Errorf("executor: rebase --abort: %w", err)
		}
	}

	nextState := statemachine.Transition(session.State, statemachine.JobAborted{NowMs: e.NowMs()})
	if _, err := e.Sessions.Update(key, nextState); err != nil {
		return fmt.Errorf("executor: persisting abort: %w", err)
	}

	if err := e.ExecCtx.Restore(ctx, session.AutoDetachedWorktrees); err != nil {
		return fmt.Errorf("executor: restoring detached worktrees: %w", err)
	}

	if stored != nil {
		execPathCtx := &execctx.Context{
			ExecutionPath:   stored.ExecutionPath,
			IsTemporary:     stored.IsTemporary,
			RequiresCleanup: stored.RequiresCleanup,
			Operation:       stored.Operation,
			RepoPath:        stored.RepoPath,
		}
		if err := e.ExecCtx.Release(ctx, repoPath, execPathCtx); err != nil {
			return fmt.Errorf("executor: releasing execution context: %w", err)
		}
	}

	return e.Sessions.Clear(key)
}

// Skip drives `rebase --skip` on the active job, routing success through
// job_succeeded and a fresh conflict back through the pause path.
func (e *Executor) Skip(ctx context.Context, repoPath string) (Result, error) {
	key := sessionstore.CanonicalKey(repoPath)
	session, err := e.Sessions.Get(key)
	if err != nil {
		return Result{}, fmt.Errorf("executor: loading session: %w", err)
	}
	if session == nil {
		return Result{}, fmt.Errorf("executor: no session to skip for %s", repoPath)
	}
	stored, err := e.ExecCtx.StoredContext(repoPath)
	if err != nil {
		return Result{}, fmt.Errorf("executor: loading stored context: %w", err)
	}
	if stored == nil {
		return Result{}, fmt.Errorf("executor: no stored execution context for %s", repoPath)
	}

	activeID := session.State.Queue.ActiveJobID
	result, err := e.Adapter.RebaseSkip(ctx, stored.ExecutionPath)
	if err != nil {
		return Result{}, fmt.Errorf("executor: rebase --skip: %w", err)
	}
	res, err := e.advanceFromResult(ctx, repoPath, key, stored.ExecutionPath, activeID, result)
	if err != nil || res.Status != StatusSuccess {
		return res, err
	}
	return e.runLoop(ctx, repoPath, key)
}

// runLoop drives jobs to completion one at a time, per spec §4.G's
// pseudo-contract.
func (e *Executor) runLoop(ctx context.Context, repoPath, key string) (Result, error) {
	for {
		session, err := e.Sessions.Get(key)
		if err != nil {
			return Result{}, fmt.Errorf("executor: loading session: %w", err)
		}
		if session == nil {
			return Result{}, fmt.Errorf("executor: session disappeared mid-run for %s", repoPath)
		}

		jobID := session.State.Queue.ActiveJobID
		if jobID == "" {
			return e.finalize(ctx, repoPath, key, session)
		}
		job := session.State.JobsByID[jobID]

		if err := validate.TrunkProtection(job); err != nil {
			return e.fail(ctx, key, session, jobID, err)
		}

		baseBranches := allBranches(session.State)

		detached, err := e.ExecCtx.DetachConflicting(ctx, repoPath, baseBranches)
		if err != nil {
			return e.fail(ctx, key, session, jobID, err)
		}
		if len(detached) > 0 {
			if _, err := e.Sessions.AddDetachedWorktrees(key, detached); err != nil {
				return e.fail(ctx, key, session, jobID, err)
			}
		}

		execPath, err := e.acquireContext(ctx, repoPath, baseBranches, job)
		if err != nil {
			return e.fail(ctx, key, session, jobID, err)
		}

		if err := validate.WorkingDirectoryClean(ctx, e.Adapter, execPath); err != nil {
			return e.fail(ctx, key, session, jobID, err)
		}

		if _, err := e.TxLog.WriteIntent(key, string(jobID), txlog.IntentExecuteJob); err != nil {
			return Result{}, fmt.Errorf("executor: writing intent: %w", err)
		}
		if err := e.TxLog.MarkExecuting(key, string(jobID)); err != nil {
			return Result{}, fmt.Errorf("executor: marking intent executing: %w", err)
		}

		if err := e.Adapter.Checkout(ctx, execPath, job.Branch, false, false, false); err != nil {
			return e.fail(ctx, key, session, jobID, err)
		}

		result, err := e.Adapter.Rebase(ctx, execPath, job.NewBaseSha, job.OldBaseSha, job.Branch)
		if err != nil {
			return e.fail(ctx, key, session, jobID, err)
		}

		res, err := e.advanceFromResult(ctx, repoPath, key, execPath, jobID, result)
		if err != nil {
			return Result{}, err
		}
		if res.Status != StatusSuccess {
			return res, nil
		}
		// success: loop back for the next job.
	}
}

func (e *Executor) acquireContext(ctx context.Context, repoPath string, involvedBranches []string, job *statemachine.Job) (string, error) {
	execCtx, err := e.ExecCtx.Acquire(ctx, repoPath, "rebase", job.NewBaseSha, involvedBranches)
	if err != nil {
		return "", fmt.Errorf("acquiring execution context: %w", err)
	}
	return execCtx.ExecutionPath, nil
}

func allBranches(state statemachine.RebaseState) []string {
	out := make([]string, 0, len(state.JobsByID))
	for _, job := range state.JobsByID {
		out = append(out, job.Branch)
	}
	return out
}

// advanceFromResult drives the state machine off a RebaseResult (from
// rebase, rebase --continue, or rebase --skip) and persists the outcome.
func (e *Executor) advanceFromResult(ctx context.Context, repoPath, key, execPath string, jobID statemachine.JobID, result vcsadapter.RebaseResult) (Result, error) {
	session, err := e.Sessions.Get(key)
	if err != nil {
		return Result{}, fmt.Errorf("executor: reloading session: %w", err)
	}
	if session == nil {
		return Result{}, fmt.Errorf("executor: session disappeared for %s", repoPath)
	}

	if result.Success {
		newHead, err := e.Adapter.ResolveRef(ctx, execPath, session.State.JobsByID[jobID].Branch)
		if err != nil {
			return Result{}, fmt.Errorf("executor: resolving new head: %w", err)
		}
		nextState := statemachine.Transition(session.State, statemachine.JobSucceeded{
			JobID:          jobID,
			RebasedHeadSha: newHead,
			NowMs:          e.NowMs(),
		})
		if _, err := e.Sessions.Update(key, nextState); err != nil {
			return Result{}, fmt.Errorf("executor: persisting success: %w", err)
		}
		if err := e.TxLog.Clear(key); err != nil {
			return Result{}, fmt.Errorf("executor: clearing intent: %w", err)
		}
		return Result{Status: StatusSuccess, ExecutionPath: execPath}, nil
	}

	if len(result.Conflicts) > 0 {
		nextState := statemachine.Transition(session.State, statemachine.JobConflicted{
			JobID:           jobID,
			ConflictedFiles: result.Conflicts,
		})
		if _, err := e.Sessions.Update(key, nextState); err != nil {
			return Result{}, fmt.Errorf("executor: persisting conflict pause: %w", err)
		}
		if err := e.TxLog.MarkCompleted(key); err != nil {
			return Result{}, fmt.Errorf("executor: marking intent completed-pending-user: %w", err)
		}
		return Result{Status: StatusPaused, Conflicts: result.Conflicts, ExecutionPath: execPath}, nil
	}

	return e.fail(ctx, key, session, jobID, errors.New("rebase produced neither success nor conflicts"))
}

// fail drives the state machine's job_failed transition and persists it. An
// intent is only marked failed if one was actually written for this job —
// a validation failure (trunk protection, dirty worktree) can strike before
// write_intent ever runs, per the ordering in spec §4.G's pseudo-contract.
func (e *Executor) fail(ctx context.Context, key string, session *sessionstore.StoredSession, jobID statemachine.JobID, cause error) (Result, error) {
	nextState := statemachine.Transition(session.State, statemachine.JobFailed{
		JobID: jobID,
		Error: cause.Error(),
		NowMs: e.NowMs(),
	})
	if _, err := e.Sessions.Update(key, nextState); err != nil {
		return Result{}, fmt.Errorf("executor: persisting failure: %w", err)
	}

	existing, err := e.TxLog.Get(key)
	if err != nil {
		return Result{}, fmt.Errorf("executor: checking intent before marking failed: %w", err)
	}
	if existing != nil {
		if err := e.TxLog.MarkFailed(key, cause.Error()); err != nil {
			return Result{}, fmt.Errorf("executor: marking intent failed: %w", err)
		}
	}
	return Result{Status: StatusError, Error: cause.Error()}, nil
}

// finalize is reached once the queue has drained with no active job: push
// every moved branch force-with-lease, release the execution context, and
// restore any detached worktrees.
func (e *Executor) finalize(ctx context.Context, repoPath, key string, session *sessionstore.StoredSession) (Result, error) {
	stored, err := e.ExecCtx.StoredContext(repoPath)
	if err != nil {
		return Result{}, fmt.Errorf("executor: loading stored context for finalize: %w", err)
	}

	var pushed, failedPushes []string
	if stored != nil {
		for _, job := range session.State.JobsByID {
			if job.Status != statemachine.JobCompleted {
				continue
			}
			err := e.Adapter.Push(ctx, stored.ExecutionPath, "origin", job.Branch, job.HeadSha, false)
			if err != nil {
				failedPushes = append(failedPushes, job.Branch)
				continue
			}
			pushed = append(pushed, job.Branch)
		}

		if err := e.ExecCtx.Restore(ctx, session.AutoDetachedWorktrees); err != nil {
			return Result{}, fmt.Errorf("executor: restoring detached worktrees: %w", err)
		}

		execPathCtx := &execctx.Context{
			ExecutionPath:   stored.ExecutionPath,
			IsTemporary:     stored.IsTemporary,
			RequiresCleanup: stored.RequiresCleanup,
			Operation:       stored.Operation,
			RepoPath:        stored.RepoPath,
		}
		if err := e.ExecCtx.Release(ctx, repoPath, execPathCtx); err != nil {
			return Result{}, fmt.Errorf("executor: releasing execution context: %w", err)
		}
	}

	if err := e.Sessions.Clear(key); err != nil {
		return Result{}, fmt.Errorf("executor: clearing completed session: %w", err)
	}
	if err := e.TxLog.Clear(key); err != nil {
		return Result{}, fmt.Errorf("executor: clearing intent: %w", err)
	}

	if len(failedPushes) > 0 {
		return Result{
			Status:         StatusPushFailed,
			PushedBranches: pushed,
			FailedPushes:   failedPushes,
		}, nil
	}
	return Result{Status: StatusSuccess, PushedBranches: pushed}, nil
}
