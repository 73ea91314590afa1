// Package validate holds the pure predicate checks that gate execution:
// trunk protection, working-directory cleanliness, worktree conflicts, and
// ancestry (spec §4.I).
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rebasectl/rebasectl/internal/statemachine"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
)

// trunkNames mirrors gitcli's isTrunkName list; kept independent since
// validators must not depend on a specific adapter implementation.
var trunkNames = map[string]bool{
	"main":    true,
	"master":  true,
	"develop": true,
	"trunk":   true,
}

// IsTrunk reports whether ref names a protected trunk branch, stripping a
// leading "remote/<name>/" prefix before comparing.
func IsTrunk(ref string) bool {
	name := ref
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return trunkNames[strings.ToLower(name)]
}

// TrunkProtection refuses a job whose branch is trunk.
func TrunkProtection(job *statemachine.Job) error {
	if IsTrunk(job.Branch) {
		return fmt.Errorf("validate: refusing to rebase trunk branch %q", job.Branch)
	}
	return nil
}

// WorkingDirectoryClean checks that execPath has no pending changes and is
// not already mid-rebase.
func WorkingDirectoryClean(ctx context.Context, adapter vcsadapter.Adapter, execPath string) error {
	status, err := adapter.WorkingTreeStatus(ctx, execPath)
	if err != nil {
		return fmt.Errorf("validate: reading working tree status: %w", err)
	}
	if status.IsRebasing {
		return vcsadapter.ErrRebaseInProgress
	}
	if files := status.AllChangedFiles(); len(files) > 0 {
		return vcsadapter.ErrDirtyWorktree
	}
	return nil
}

// WorktreeConflictClass is the classification of a sibling worktree
// checkout conflict.
type WorktreeConflictClass string

const (
	ConflictNone  WorktreeConflictClass = "none"
	ConflictClean WorktreeConflictClass = "clean" // candidate for automatic detachment
	ConflictDirty WorktreeConflictClass = "dirty" // hard block
)

// WorktreeConflict checks every sibling worktree for branches the plan
// needs, classifying any checkout as clean (detachable) or dirty (blocked).
func WorktreeConflict(ctx context.Context, adapter vcsadapter.Adapter, repoPath string, planBranches []string) (map[string]WorktreeConflictClass, error) {
	needed := make(map[string]bool, len(planBranches))
	for _, b := range planBranches {
		needed[b] = true
	}

	worktrees, err := adapter.ListWorktrees(ctx, repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("validate: listing worktrees: %w", err)
	}

	out := make(map[string]WorktreeConflictClass)
	for _, w := range worktrees {
		if w.IsMain || w.Branch == "" || !needed[w.Branch] {
			continue
		}
		if w.IsDirty {
			out[w.Branch] = ConflictDirty
		} else {
			out[w.Branch] = ConflictClean
		}
	}
	return out, nil
}

// AncestryMismatch verifies, for every descendant job, that its recorded
// OldBaseSha is an ancestor of its HeadSha — otherwise the branches don't
// form a pure stack and the plan must be refused.
func AncestryMismatch(ctx context.Context, adapter vcsadapter.Adapter, repoPath string, jobs []*statemachine.Job) error {
	for _, job := range jobs {
		if job.OldBaseSha == "" || job.HeadSha == "" {
			continue
		}
		ok, err := adapter.IsAncestor(ctx, repoPath, job.OldBaseSha, job.HeadSha)
		if err != nil {
			return fmt.Errorf("validate: checking ancestry for %s: %w", job.Branch, err)
		}
		if !ok {
			return fmt.Errorf("validate: %s's base %s is not an ancestor of its head %s, not a pure stack", job.Branch, job.OldBaseSha, job.HeadSha)
		}
	}
	return nil
}
