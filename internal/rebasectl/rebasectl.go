// Package rebasectl is the operation facade: it wires the planner, state
// machine, session store, transaction log, execution-context service,
// executor, reconciler, and validators into the nine operations of
// spec.md §6 (submit/confirm/cancel/continue/abort/skip/status/resume/
// dismiss), the same way the teacher's internal/cli dispatches into
// internal/engine.
package rebasectl

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rebasectl/rebasectl/internal/execctx"
	"github.com/rebasectl/rebasectl/internal/executor"
	"github.com/rebasectl/rebasectl/internal/planner"
	"github.com/rebasectl/rebasectl/internal/rcconfig"
	"github.com/rebasectl/rebasectl/internal/rebaseerrors"
	"github.com/rebasectl/rebasectl/internal/reconcile"
	"github.com/rebasectl/rebasectl/internal/repomodel"
	"github.com/rebasectl/rebasectl/internal/sessionstore"
	"github.com/rebasectl/rebasectl/internal/statemachine"
	"github.com/rebasectl/rebasectl/internal/telemetry"
	"github.com/rebasectl/rebasectl/internal/txlog"
	"github.com/rebasectl/rebasectl/internal/validate"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
)

// Service is the operation facade. One Service serves every repository; the
// session store and transaction log are themselves keyed per repository
// (spec §4.B/§4.C), so no per-repo Service instances are needed.
type Service struct {
	Adapter  vcsadapter.Adapter
	Sessions *sessionstore.Store
	TxLog    *txlog.Log
	ExecCtx  *execctx.Service
	Executor *executor.Executor
	Config   *rcconfig.Config
	Log      telemetry.Logger
	NowMs    func() int64
	IDGen    planner.IDGen

	mu      sync.Mutex
	pending map[string]*pendingIntent
}

type pendingIntent struct {
	Plan           *planner.RebasePlan
	OriginalBranch string
}

// New builds a Service rooted at <repo>/.git/rebasectl for every subsystem's
// durable storage, matching spec.md §6's literal transaction-log path
// template generalized to the rest of the durable state.
func New(adapter vcsadapter.Adapter, repoPath string, cfg *rcconfig.Config, log telemetry.Logger, nowMs func() int64) (*Service, error) {
	baseDir := filepath.Join(repoPath, ".git", "rebasectl")
	tempDir := filepath.Join(baseDir, "tmp")

	sessions, err := sessionstore.Open(baseDir, nowMs)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: opening session store: %w", err)
	}
	txLog, err := txlog.Open(baseDir, nowMs)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: opening transaction log: %w", err)
	}
	execSvc, err := execctx.New(adapter, baseDir, tempDir, nowMs)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: opening execution-context service: %w", err)
	}

	if err := recoverIntent(txLog, sessionstore.CanonicalKey(repoPath)); err != nil {
		return nil, fmt.Errorf("rebasectl: recovering intent at startup: %w", err)
	}

	return &Service{
		Adapter:  adapter,
		Sessions: sessions,
		TxLog:    txLog,
		ExecCtx:  execSvc,
		Executor: &executor.Executor{Adapter: adapter, ExecCtx: execSvc, Sessions: sessions, TxLog: txLog, NowMs: nowMs, IDGen: planner.UUIDGen},
		Config:   cfg,
		Log:      log,
		NowMs:    nowMs,
		IDGen:    planner.UUIDGen,
		pending:  make(map[string]*pendingIntent),
	}, nil
}

// UI is the discriminated snapshot every operation returns to the caller.
type UI struct {
	Repo       string
	IsRebasing bool
	HasSession bool
	State      *statemachine.RebaseState
	Conflicts  []string
	Progress   *Progress
}

// Progress reports how many jobs of the active plan have finished.
type Progress struct {
	Completed int
	Total     int
}

// execPathFor returns the worktree the adapter should be queried against:
// the active auxiliary execution path if one is recorded, otherwise
// repoPath itself.
func (s *Service) execPathFor(repoPath string) (string, error) {
	stored, err := s.ExecCtx.StoredContext(repoPath)
	if err != nil {
		return "", fmt.Errorf("rebasectl: loading stored execution context: %w", err)
	}
	if stored == nil {
		return repoPath, nil
	}
	return stored.ExecutionPath, nil
}

func (s *Service) buildUI(ctx context.Context, repoPath string) (*UI, error) {
	key := sessionstore.CanonicalKey(repoPath)
	session, err := s.Sessions.Get(key)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: loading session: %w", err)
	}
	execPath, err := s.execPathFor(repoPath)
	if err != nil {
		return nil, err
	}
	toolState, err := s.Adapter.GetRebaseState(ctx, execPath)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: reading tool rebase state: %w", err)
	}

	ui := &UI{Repo: repoPath, IsRebasing: toolState != nil, HasSession: session != nil}
	if session == nil {
		return ui, nil
	}

	state := session.State
	ui.State = &state
	ui.Progress = progressOf(state)

	if state.Session.Status == statemachine.SessionPaused {
		ui.Conflicts = s.conflictedFiles(ctx, execPath)
	}
	return ui, nil
}

func progressOf(state statemachine.RebaseState) *Progress {
	var completed int
	for _, job := range state.JobsByID {
		if job.Status == statemachine.JobCompleted {
			completed++
		}
	}
	return &Progress{Completed: completed, Total: len(state.JobsByID)}
}

func (s *Service) conflictedFiles(ctx context.Context, execPath string) []string {
	status, err := s.Adapter.WorkingTreeStatus(ctx, execPath)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(status.Conflicted))
	for _, f := range status.Conflicted {
		out = append(out, f.Path)
	}
	return out
}

// SubmitKind discriminates Submit's outcome, mirroring spec.md §6's
// {ok,previewUi} / {err,conflicts,message} / null result shape.
type SubmitKind string

const (
	SubmitOK               SubmitKind = "ok"
	SubmitWorktreeConflict SubmitKind = "worktree_conflict"
	SubmitRejected         SubmitKind = "rejected"
)

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	Kind      SubmitKind
	PreviewUI *UI
	Conflicts []string
	Message   string
}

// Submit plans moving the branch whose current head is headSha onto
// baseSha, without installing or executing anything (spec.md §6
// submit_rebase_intent). The plan is held in memory until Confirm installs
// it or Cancel/Dismiss drops it.
func (s *Service) Submit(ctx context.Context, repoPath, headSha, baseSha string) (*SubmitResult, error) {
	model, err := repomodel.Build(ctx, s.Adapter, repoPath, trunkSet(s.Config))
	if err != nil {
		return nil, fmt.Errorf("rebasectl: building repository model: %w", err)
	}

	branch := findByHead(model, headSha)
	if branch == nil {
		return &SubmitResult{Kind: SubmitRejected, Message: fmt.Sprintf("no branch found with head %s", headSha)}, nil
	}

	originalBranch, _, err := s.Adapter.CurrentBranch(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: reading current branch: %w", err)
	}

	// The planner's cycle check walks the model by branch ref, not by sha;
	// resolve baseSha back to the branch it is the tip of, if any, so
	// "rebase onto a descendant of itself" is actually caught.
	newBaseRef := baseSha
	if baseBranch := findByHead(model, baseSha); baseBranch != nil {
		newBaseRef = baseBranch.Ref
	}

	plan, err := planner.Plan(model, planner.Request{Branch: branch.Ref, NewBaseRef: newBaseRef}, baseSha, s.IDGen)
	if err != nil {
		var rejected *planner.Rejected
		if asRejected(err, &rejected) {
			return &SubmitResult{Kind: SubmitRejected, Message: rejected.Reason}, nil
		}
		return nil, fmt.Errorf("rebasectl: planning: %w", err)
	}

	planBranches := branchesOf(plan)
	conflicts, err := validate.WorktreeConflict(ctx, s.Adapter, repoPath, planBranches)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: checking worktree conflicts: %w", err)
	}
	var dirty []string
	for branchName, class := range conflicts {
		if class == validate.ConflictDirty {
			dirty = append(dirty, branchName)
		}
	}
	if len(dirty) > 0 {
		return &SubmitResult{
			Kind:      SubmitWorktreeConflict,
			Conflicts: dirty,
			Message:   "one or more branches in the plan are checked out with uncommitted changes in another worktree",
		}, nil
	}

	key := sessionstore.CanonicalKey(repoPath)
	s.mu.Lock()
	s.pending[key] = &pendingIntent{Plan: plan, OriginalBranch: originalBranch}
	s.mu.Unlock()

	ui := &UI{Repo: repoPath, State: &plan.State, Progress: progressOf(plan.State)}
	return &SubmitResult{Kind: SubmitOK, PreviewUI: ui}, nil
}

// ConfirmResult is the outcome of Confirm.
type ConfirmResult struct {
	Ok        bool
	UI        *UI
	Conflict  bool
	Conflicts []string
}

// Confirm installs the pending plan for repoPath and runs it to completion,
// a conflict pause, or a validation failure (spec.md §6 confirm_rebase_intent).
func (s *Service) Confirm(ctx context.Context, repoPath string) (*ConfirmResult, error) {
	key := sessionstore.CanonicalKey(repoPath)

	s.mu.Lock()
	pending, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil, rebaseerrors.New(rebaseerrors.CodeValidationFailed, "no pending rebase intent to confirm")
	}

	// Open Question #3: reject rather than replan if any branch with a
	// recorded base moved between submit and confirm, i.e. its current head
	// no longer equals the head recorded in the plan.
	for _, job := range pending.Plan.State.JobsByID {
		if job.OldBaseSha == "" {
			continue
		}
		current, err := s.Adapter.ResolveRef(ctx, repoPath, job.Branch)
		if err != nil {
			return nil, rebaseerrors.Wrap(rebaseerrors.CodeBranchNotFound, fmt.Sprintf("resolving %s", job.Branch), err)
		}
		if current != job.HeadSha {
			return nil, rebaseerrors.New(rebaseerrors.CodeValidationFailed,
				fmt.Sprintf("%s moved since the intent was submitted, resubmit", job.Branch))
		}
	}

	result, err := s.Executor.Execute(ctx, repoPath, pending.Plan, pending.OriginalBranch)
	if err != nil {
		return nil, rebaseerrors.Wrap(rebaseerrors.CodeGeneric, "executing confirmed plan", err)
	}
	return s.resultToConfirm(ctx, repoPath, result)
}

func (s *Service) resultToConfirm(ctx context.Context, repoPath string, result executor.Result) (*ConfirmResult, error) {
	ui, err := s.buildUI(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	switch result.Status {
	case executor.StatusSuccess, executor.StatusPushFailed:
		return &ConfirmResult{Ok: true, UI: ui}, nil
	case executor.StatusPaused:
		return &ConfirmResult{Conflict: true, UI: ui, Conflicts: result.Conflicts}, nil
	default:
		return nil, rebaseerrors.New(rebaseerrors.CodeGeneric, result.Error)
	}
}

// Cancel clears the in-flight session (or pending, unconfirmed plan) for
// repoPath and restores any detached worktrees. Per spec.md's benign-error
// rule, calling Cancel when nothing exists is a no-op that returns the
// current UI (spec.md line 332).
func (s *Service) Cancel(ctx context.Context, repoPath string) (*UI, error) {
	key := sessionstore.CanonicalKey(repoPath)

	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()

	session, err := s.Sessions.Get(key)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: loading session: %w", err)
	}
	if session != nil {
		if err := s.Executor.Abort(ctx, repoPath); err != nil {
			return nil, fmt.Errorf("rebasectl: aborting for cancel: %w", err)
		}
	}
	return s.buildUI(ctx, repoPath)
}

// ContinueResult is the outcome shared by Continue, Skip, and Resume.
type ContinueResult struct {
	Ok        bool
	UI        *UI
	Conflict  bool
	Conflicts []string
}

// Continue resumes a paused job after the user resolved its conflict
// (spec.md §6 continue_rebase).
func (s *Service) Continue(ctx context.Context, repoPath string) (*ContinueResult, error) {
	result, err := s.Executor.Continue(ctx, repoPath)
	if err != nil {
		return nil, rebaseerrors.Wrap(rebaseerrors.CodeGeneric, "continuing rebase", err)
	}
	return s.resultToContinue(ctx, repoPath, result)
}

// Skip drives `rebase --skip` on the active job (spec.md §6 skip_rebase_commit).
func (s *Service) Skip(ctx context.Context, repoPath string) (*ContinueResult, error) {
	result, err := s.Executor.Skip(ctx, repoPath)
	if err != nil {
		return nil, rebaseerrors.Wrap(rebaseerrors.CodeGeneric, "skipping rebase commit", err)
	}
	return s.resultToContinue(ctx, repoPath, result)
}

// Resume re-enters the executor loop for an in-flight plan after a restart,
// without requiring the adapter to have an active `rebase --continue`
// target (spec.md §6 resume_rebase_queue) — first runs reconciliation so any
// externally-completed job is already reflected in the session before the
// executor is asked to pick up the next one.
func (s *Service) Resume(ctx context.Context, repoPath string) (*ContinueResult, error) {
	key := sessionstore.CanonicalKey(repoPath)
	execPath, err := s.execPathFor(repoPath)
	if err != nil {
		return nil, err
	}
	if _, _, err := reconcile.Reconcile(ctx, s.Adapter, s.Sessions, key, execPath, s.NowMs()); err != nil {
		return nil, fmt.Errorf("rebasectl: reconciling before resume: %w", err)
	}

	session, err := s.Sessions.Get(key)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: loading session: %w", err)
	}
	if session == nil {
		ui, err := s.buildUI(ctx, repoPath)
		return &ContinueResult{Ok: true, UI: ui}, err
	}

	result, err := s.Executor.Resume(ctx, repoPath)
	if err != nil {
		return nil, rebaseerrors.Wrap(rebaseerrors.CodeGeneric, "resuming rebase queue", err)
	}
	return s.resultToContinue(ctx, repoPath, result)
}

func (s *Service) resultToContinue(ctx context.Context, repoPath string, result executor.Result) (*ContinueResult, error) {
	ui, err := s.buildUI(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	switch result.Status {
	case executor.StatusSuccess, executor.StatusPushFailed:
		return &ContinueResult{Ok: true, UI: ui}, nil
	case executor.StatusPaused:
		return &ContinueResult{Conflict: true, UI: ui, Conflicts: result.Conflicts}, nil
	default:
		return nil, rebaseerrors.New(rebaseerrors.CodeGeneric, result.Error)
	}
}

// AbortResult is the outcome of Abort.
type AbortResult struct {
	Ok bool
	UI *UI
}

// Abort unwinds the active rebase and clears the session (spec.md §6
// abort_rebase). Aborting with no rebase in progress is benign: it returns
// success and leaves state unchanged (spec.md line 331).
func (s *Service) Abort(ctx context.Context, repoPath string) (*AbortResult, error) {
	key := sessionstore.CanonicalKey(repoPath)
	session, err := s.Sessions.Get(key)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: loading session: %w", err)
	}
	if session == nil {
		ui, err := s.buildUI(ctx, repoPath)
		return &AbortResult{Ok: true, UI: ui}, err
	}

	if err := s.Executor.Abort(ctx, repoPath); err != nil {
		return nil, rebaseerrors.Wrap(rebaseerrors.CodeGeneric, "aborting rebase", err)
	}
	ui, err := s.buildUI(ctx, repoPath)
	return &AbortResult{Ok: true, UI: ui}, err
}

// recoverIntent applies spec §4.C's crash-recovery rule for repoKey: a
// stale or terminal intent is cleared outright by Log.Recover itself
// (ActionCleared, no further action needed here). An intent still marked
// "executing" when the process died (ActionConsultTool) defers the actual
// decision to the reconcile pass that follows in every caller of this
// function — the adapter's observable state, not the journal, decides
// whether that job finished externally or is still paused on conflict — so
// the journal entry itself is cleared here once recovery has classified it.
func recoverIntent(log *txlog.Log, key string) error {
	action, _, err := log.Recover(key)
	if err != nil {
		return fmt.Errorf("recovering intent for %s: %w", key, err)
	}
	if action == txlog.ActionConsultTool {
		if err := log.Clear(key); err != nil {
			return fmt.Errorf("clearing consulted intent for %s: %w", key, err)
		}
	}
	return nil
}

// Status runs crash recovery against the transaction log, reconciles
// recorded state against the tool's observable state, and returns a fresh
// snapshot (spec.md §6 get_rebase_status). Recovery runs here, and again at
// Service construction, per spec §4.C's "on every service start and before
// every status read."
func (s *Service) Status(ctx context.Context, repoPath string) (*UI, error) {
	key := sessionstore.CanonicalKey(repoPath)
	if err := recoverIntent(s.TxLog, key); err != nil {
		return nil, fmt.Errorf("rebasectl: %w", err)
	}
	execPath, err := s.execPathFor(repoPath)
	if err != nil {
		return nil, err
	}
	if _, _, err := reconcile.Reconcile(ctx, s.Adapter, s.Sessions, key, execPath, s.NowMs()); err != nil {
		return nil, fmt.Errorf("rebasectl: reconciling: %w", err)
	}
	return s.buildUI(ctx, repoPath)
}

// Dismiss acknowledges a terminal (completed or failed) session, clearing
// it, and returns the resulting UI (spec.md §6 dismiss_rebase_queue). A
// session still running or paused is left untouched.
func (s *Service) Dismiss(ctx context.Context, repoPath string) (*UI, error) {
	key := sessionstore.CanonicalKey(repoPath)
	session, err := s.Sessions.Get(key)
	if err != nil {
		return nil, fmt.Errorf("rebasectl: loading session: %w", err)
	}
	if session != nil && (session.State.Session.Status == statemachine.SessionCompleted || session.State.Session.Status == statemachine.SessionFailed) {
		if err := s.Sessions.Clear(key); err != nil {
			return nil, fmt.Errorf("rebasectl: clearing dismissed session: %w", err)
		}
		if err := s.TxLog.Clear(key); err != nil {
			return nil, fmt.Errorf("rebasectl: clearing dismissed intent: %w", err)
		}
	}
	return s.buildUI(ctx, repoPath)
}

func trunkSet(cfg *rcconfig.Config) map[string]bool {
	if cfg == nil {
		return nil
	}
	out := make(map[string]bool, len(cfg.TrunkBranches))
	for _, b := range cfg.TrunkBranches {
		out[b] = true
	}
	return out
}

func findByHead(model *repomodel.Model, headSha string) *repomodel.BranchNode {
	// Model has no direct head index; walk is acceptable since branch
	// counts are small and this runs once per submit.
	for _, ref := range model.AllRefs() {
		if node := model.Branch(ref); node != nil && node.HeadSha == headSha {
			return node
		}
	}
	return nil
}

func branchesOf(plan *planner.RebasePlan) []string {
	out := make([]string, 0, len(plan.State.JobsByID))
	for _, job := range plan.State.JobsByID {
		out = append(out, job.Branch)
	}
	return out
}

func asRejected(err error, target **planner.Rejected) bool {
	rejected, ok := err.(*planner.Rejected)
	if !ok {
		return false
	}
	*target = rejected
	return true
}
