// Package vcsadaptertest provides an in-memory vcsadapter.Adapter fake for
// unit tests that would otherwise need a real git binary.
package vcsadaptertest

import (
	"context"
	"fmt"

	"github.com/rebasectl/rebasectl/internal/vcsadapter"
)

// Fake is a scriptable, in-memory vcsadapter.Adapter. Each repoPath maps to
// an independent little world; tests configure it directly via the
// exported fields before exercising the code under test.
type Fake struct {
	Branches  map[string][]vcsadapter.Branch
	Worktrees map[string][]vcsadapter.Worktree
	Statuses  map[string]vcsadapter.WorkingTreeStatus
	Refs      map[string]map[string]string // repoPath -> ref -> sha

	RebaseFunc func(repoPath, onto, from, to string) (vcsadapter.RebaseResult, error)
	RebasingAt map[string]*vcsadapter.RebaseState

	Ancestors map[string]bool // key "ancestor|descendant" -> result, for IsAncestor

	CheckoutCalls []CheckoutCall
	AddWorktreeCalls []AddWorktreeCall
	RemoveWorktreeCalls []string
}

type CheckoutCall struct {
	RepoPath string
	Ref      string
	Detach   bool
}

type AddWorktreeCall struct {
	RepoPath     string
	WorktreePath string
	Ref          string
}

func New() *Fake {
	return &Fake{
		Branches:  make(map[string][]vcsadapter.Branch),
		Worktrees: make(map[string][]vcsadapter.Worktree),
		Statuses:  make(map[string]vcsadapter.WorkingTreeStatus),
		Refs:      make(map[string]map[string]string),
	}
}

func (f *Fake) ListBranches(ctx context.Context, repoPath string, filter vcsadapter.RemoteFilter) ([]vcsadapter.Branch, error) {
	return f.Branches[repoPath], nil
}

func (f *Fake) ListRemotes(ctx context.Context, repoPath string) ([]vcsadapter.Remote, error) {
	return nil, nil
}

func (f *Fake) ListWorktrees(ctx context.Context, repoPath string, skipDirty bool) ([]vcsadapter.Worktree, error) {
	all := f.Worktrees[repoPath]
	if !skipDirty {
		return all, nil
	}
	var out []vcsadapter.Worktree
	for _, w := range all {
		if !w.IsDirty {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *Fake) AddWorktree(ctx context.Context, repoPath, worktreePath, ref string) error {
	f.AddWorktreeCalls = append(f.AddWorktreeCalls, AddWorktreeCall{RepoPath: repoPath, WorktreePath: worktreePath, Ref: ref})
	f.Worktrees[repoPath] = append(f.Worktrees[repoPath], vcsadapter.Worktree{Path: worktreePath, Branch: ref})
	return nil
}

func (f *Fake) RemoveWorktree(ctx context.Context, repoPath, worktreePath string, force bool) error {
	f.RemoveWorktreeCalls = append(f.RemoveWorktreeCalls, worktreePath)
	existing := f.Worktrees[repoPath]
	out := existing[:0]
	for _, w := range existing {
		if w.Path != worktreePath {
			out = append(out, w)
		}
	}
	f.Worktrees[repoPath] = out
	return nil
}

func (f *Fake) Log(ctx context.Context, repoPath, ref string, depth, max int) ([]vcsadapter.Commit, error) {
	return nil, nil
}

func (f *Fake) ResolveRef(ctx context.Context, repoPath, ref string) (string, error) {
	if byRef, ok := f.Refs[repoPath]; ok {
		if sha, ok := byRef[ref]; ok {
			return sha, nil
		}
	}
	return "", fmt.Errorf("fake: unresolved ref %s", ref)
}

func (f *Fake) ResolveRefs(ctx context.Context, repoPath string, refs []string) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	for _, r := range refs {
		sha, err := f.ResolveRef(ctx, repoPath, r)
		if err != nil {
			return nil, err
		}
		out[r] = sha
	}
	return out, nil
}

func (f *Fake) CurrentBranch(ctx context.Context, repoPath string) (string, bool, error) {
	status := f.Statuses[repoPath]
	return status.CurrentBranch, status.Detached, nil
}

func (f *Fake) WorkingTreeStatus(ctx context.Context, repoPath string) (vcsadapter.WorkingTreeStatus, error) {
	return f.Statuses[repoPath], nil
}

func (f *Fake) Checkout(ctx context.Context, repoPath, ref string, force, detach, create bool) error {
	f.CheckoutCalls = append(f.CheckoutCalls, CheckoutCall{RepoPath: repoPath, Ref: ref, Detach: detach})
	for i, w := range f.Worktrees[repoPath] {
		if w.Path == repoPath {
			if detach {
				f.Worktrees[repoPath][i].Branch = ""
			} else {
				f.Worktrees[repoPath][i].Branch = ref
			}
		}
	}
	return nil
}

func (f *Fake) BranchCreate(ctx context.Context, repoPath, name, from string) error { return nil }
func (f *Fake) BranchDelete(ctx context.Context, repoPath, name string, force bool) error {
	return nil
}
func (f *Fake) BranchRename(ctx context.Context, repoPath, oldName, newName string) error {
	return nil
}

func (f *Fake) Reset(ctx context.Context, repoPath string, mode vcsadapter.ResetMode, ref string) error {
	return nil
}

func (f *Fake) Rebase(ctx context.Context, repoPath string, onto, from, to string) (vcsadapter.RebaseResult, error) {
	if f.RebaseFunc != nil {
		return f.RebaseFunc(repoPath, onto, from, to)
	}
	return vcsadapter.RebaseResult{Success: true, CurrentCommit: onto}, nil
}

func (f *Fake) RebaseContinue(ctx context.Context, repoPath string) (vcsadapter.RebaseResult, error) {
	return vcsadapter.RebaseResult{Success: true}, nil
}

func (f *Fake) RebaseAbort(ctx context.Context, repoPath string) error { return nil }

func (f *Fake) RebaseSkip(ctx context.Context, repoPath string) (vcsadapter.RebaseResult, error) {
	return vcsadapter.RebaseResult{Success: true}, nil
}

func (f *Fake) GetRebaseState(ctx context.Context, repoPath string) (*vcsadapter.RebaseState, error) {
	return f.RebasingAt[repoPath], nil
}

func (f *Fake) MergeBase(ctx context.Context, repoPath, a, b string) (string, error) {
	return "", nil
}

func (f *Fake) IsAncestor(ctx context.Context, repoPath, ancestor, descendant string) (bool, error) {
	if f.Ancestors == nil {
		return false, nil
	}
	return f.Ancestors[ancestor+"|"+descendant], nil
}

func (f *Fake) FormatPatch(ctx context.Context, repoPath, fromRef, toRef string) ([]byte, error) {
	return nil, nil
}

func (f *Fake) ApplyPatch(ctx context.Context, repoPath string, patch []byte) (vcsadapter.ApplyPatchResult, error) {
	return vcsadapter.ApplyPatchResult{Success: true}, nil
}

func (f *Fake) Push(ctx context.Context, repoPath, remote, ref string, forceWithLeaseExpect string, setUpstream bool) error {
	return nil
}

func (f *Fake) Fetch(ctx context.Context, repoPath, remote string) error { return nil }

func (f *Fake) SupportsPush() bool  { return true }
func (f *Fake) SupportsNotes() bool { return true }

var _ vcsadapter.Adapter = (*Fake)(nil)
