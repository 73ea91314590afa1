package execctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rebasectl/rebasectl/internal/kvstore"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
)

// ErrWorktreeConflict is returned when a branch the plan needs is checked
// out dirty in a sibling worktree; the caller must surface WORKTREE_CONFLICT
// to the user rather than proceed (spec §4.D).
var ErrWorktreeConflict = errors.New("execctx: branch is checked out dirty in another worktree")

const contextRecordKeyPrefix = "execctx/"

// record is the persisted shape of Context, so a paused operation can be
// found and continued after a process restart (spec §4.D point 3).
type record struct {
	ExecutionPath   string
	IsTemporary     bool
	RequiresCleanup bool
	CreatedAtUnixMs int64
	Operation       string
	RepoPath        string
}

// Service allocates and releases execution contexts for mutating
// operations, and manages automatic detachment of conflicting sibling
// worktrees.
type Service struct {
	adapter vcsadapter.Adapter
	kv      *kvstore.Store
	tempDir string
	nowMs   func() int64
}

// New returns a Service using adapter for VCS operations, storing context
// records under baseDir and rooting temporary worktrees under tempDir.
func New(adapter vcsadapter.Adapter, baseDir, tempDir string, nowMs func() int64) (*Service, error) {
	kv, err := kvstore.Open(baseDir)
	if err != nil {
		return nil, fmt.Errorf("execctx: %w", err)
	}
	return &Service{adapter: adapter, kv: kv, tempDir: tempDir, nowMs: nowMs}, nil
}

func recordKey(repoPath string) string {
	return contextRecordKeyPrefix + repoPath
}

// Acquire allocates a working directory for operation against repoPath. If
// the user's current checkout is clean and none of involvedBranches is
// currently checked out there, it is reused directly (non-temporary);
// otherwise a linked auxiliary worktree is created at baseSha.
func (s *Service) Acquire(ctx context.Context, repoPath, operation, baseSha string, involvedBranches []string) (*Context, error) {
	status, err := s.adapter.WorkingTreeStatus(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("execctx: checking working tree status: %w", err)
	}

	reusable := status.IsClean() && !status.IsRebasing
	if reusable {
		for _, b := range involvedBranches {
			if status.CurrentBranch == b {
				reusable = false
				break
			}
		}
	}

	if reusable {
		rec := &Context{
			ExecutionPath:   repoPath,
			IsTemporary:     false,
			RequiresCleanup: false,
			CreatedAt:       time.UnixMilli(s.nowMs()),
			Operation:       operation,
			RepoPath:        repoPath,
		}
		if err := s.persist(repoPath, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	auxPath := filepath.Join(s.tempDir, fmt.Sprintf("rebasectl-%d", s.nowMs()))
	if err := s.adapter.AddWorktree(ctx, repoPath, auxPath, baseSha); err != nil {
		return nil, fmt.Errorf("execctx: creating auxiliary worktree: %w", err)
	}
	rec := &Context{
		ExecutionPath:   auxPath,
		IsTemporary:     true,
		RequiresCleanup: true,
		CreatedAt:       time.UnixMilli(s.nowMs()),
		Operation:       operation,
		RepoPath:        repoPath,
	}
	if err := s.persist(repoPath, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Release deletes the auxiliary worktree for a temporary context
// (best-effort; failures are surfaced but do not block cleanup of the
// stored record), and always resets the stored-context record.
func (s *Service) Release(ctx context.Context, repoPath string, execCtx *Context) error {
	var releaseErr error
	if execCtx.IsTemporary {
		if err := s.adapter.RemoveWorktree(ctx, execCtx.RepoPath, execCtx.ExecutionPath, true); err != nil {
			releaseErr = fmt.Errorf("execctx: removing auxiliary worktree %s: %w", execCtx.ExecutionPath, err)
		}
	}
	if err := s.kv.Delete(recordKey(repoPath)); err != nil {
		return fmt.Errorf("execctx: clearing stored context record: %w", err)
	}
	return releaseErr
}

// StoredContext returns the persisted context record for repoPath, or nil
// if none exists (used to find a paused operation after a restart).
func (s *Service) StoredContext(repoPath string) (*Context, error) {
	var rec record
	err := s.kv.Get(recordKey(repoPath), &rec)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("execctx: reading stored context: %w", err)
	}
	return &Context{
		ExecutionPath:   rec.ExecutionPath,
		IsTemporary:     rec.IsTemporary,
		RequiresCleanup: rec.RequiresCleanup,
		CreatedAt:       time.UnixMilli(rec.CreatedAtUnixMs),
		Operation:       rec.Operation,
		RepoPath:        rec.RepoPath,
	}, nil
}

func (s *Service) persist(repoPath string, c *Context) error {
	rec := record{
		ExecutionPath:   c.ExecutionPath,
		IsTemporary:     c.IsTemporary,
		RequiresCleanup: c.RequiresCleanup,
		CreatedAtUnixMs: c.CreatedAt.UnixMilli(),
		Operation:       c.Operation,
		RepoPath:        c.RepoPath,
	}
	if err := s.kv.Put(recordKey(repoPath), rec); err != nil {
		return fmt.Errorf("execctx: persisting context record: %w", err)
	}
	return nil
}

// DetachConflicting inspects every sibling worktree of repoPath and, for
// any that has a branch in neededBranches checked out, detaches HEAD there
// if clean or returns ErrWorktreeConflict if dirty (spec §4.D automatic
// detachment policy).
func (s *Service) DetachConflicting(ctx context.Context, repoPath string, neededBranches []string) ([]DetachedWorktree, error) {
	needed := make(map[string]bool, len(neededBranches))
	for _, b := range neededBranches {
		needed[b] = true
	}

	worktrees, err := s.adapter.ListWorktrees(ctx, repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("execctx: listing worktrees: %w", err)
	}

	var detached []DetachedWorktree
	for _, w := range worktrees {
		if w.IsMain || w.Branch == "" || !needed[w.Branch] {
			continue
		}
		if w.IsDirty {
			return detached, fmt.Errorf("%w: %s has %s checked out", ErrWorktreeConflict, w.Path, w.Branch)
		}
		if err := s.adapter.Checkout(ctx, w.Path, w.HeadSha, false, true, false); err != nil {
			return detached, fmt.Errorf("execctx: detaching %s: %w", w.Path, err)
		}
		detached = append(detached, DetachedWorktree{WorktreePath: w.Path, Branch: w.Branch})
	}
	return detached, nil
}

// Restore re-attaches HEAD to each recorded branch, undoing DetachConflicting.
func (s *Service) Restore(ctx context.Context, detached []DetachedWorktree) error {
	var firstErr error
	for _, d := range detached {
		if err := s.adapter.Checkout(ctx, d.WorktreePath, d.Branch, false, false, false); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("execctx: restoring %s to %s: %w", d.WorktreePath, d.Branch, err)
		}
	}
	return firstErr
}

// EnsureTempDirExists creates the auxiliary worktree root if missing.
func (s *Service) EnsureTempDirExists() error {
	return os.MkdirAll(s.tempDir, 0755)
}
