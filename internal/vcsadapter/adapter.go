package vcsadapter

import "context"

// Adapter is the full capability set the rebase engine is allowed to use to
// mutate a repository. Any implementation fulfilling it may be swapped in —
// a subprocess wrapper, a native library binding, or an in-memory fake for
// tests. Nothing outside gitcli (or a test fake) should implement this.
type Adapter interface {
	ListBranches(ctx context.Context, repoPath string, filter RemoteFilter) ([]Branch, error)
	ListRemotes(ctx context.Context, repoPath string) ([]Remote, error)
	ListWorktrees(ctx context.Context, repoPath string, skipDirty bool) ([]Worktree, error)
	AddWorktree(ctx context.Context, repoPath, worktreePath, ref string) error
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string, force bool) error

	Log(ctx context.Context, repoPath, ref string, depth, max int) ([]Commit, error)
	ResolveRef(ctx context.Context, repoPath, ref string) (string, error)
	ResolveRefs(ctx context.Context, repoPath string, refs []string) (map[string]string, error)
	CurrentBranch(ctx context.Context, repoPath string) (string, bool, error)
	WorkingTreeStatus(ctx context.Context, repoPath string) (WorkingTreeStatus, error)

	Checkout(ctx context.Context, repoPath, ref string, force, detach, create bool) error
	BranchCreate(ctx context.Context, repoPath, name, from string) error
	BranchDelete(ctx context.Context, repoPath, name string, force bool) error
	BranchRename(ctx context.Context, repoPath, oldName, newName string) error

	Reset(ctx context.Context, repoPath string, mode ResetMode, ref string) error

	Rebase(ctx context.Context, repoPath string, onto, from, to string) (RebaseResult, error)
	RebaseContinue(ctx context.Context, repoPath string) (RebaseResult, error)
	RebaseAbort(ctx context.Context, repoPath string) error
	RebaseSkip(ctx context.Context, repoPath string) (RebaseResult, error)
	GetRebaseState(ctx context.Context, repoPath string) (*RebaseState, error)

	MergeBase(ctx context.Context, repoPath, a, b string) (string, error)
	IsAncestor(ctx context.Context, repoPath, ancestor, descendant string) (bool, error)

	FormatPatch(ctx context.Context, repoPath, fromRef, toRef string) ([]byte, error)
	ApplyPatch(ctx context.Context, repoPath string, patch []byte) (ApplyPatchResult, error)

	Push(ctx context.Context, repoPath, remote, ref string, forceWithLeaseExpect string, setUpstream bool) error
	Fetch(ctx context.Context, repoPath, remote string) error

	// SupportsPush/SupportsNotes express capability probing explicitly
	// (see spec DESIGN NOTES §9) rather than via reflection or absent methods.
	SupportsPush() bool
	SupportsNotes() bool
}
