// Package execctx allocates the working directory a mutating operation
// runs in: the user's own checkout when safe to reuse, otherwise a
// temporary auxiliary worktree (spec §4.D).
package execctx

import "time"

// Context is the working directory a single operation executes in.
type Context struct {
	ExecutionPath   string
	IsTemporary     bool
	RequiresCleanup bool
	CreatedAt       time.Time
	Operation       string
	RepoPath        string
}

// DetachedWorktree records that a plan forcibly detached Branch in
// WorktreePath (moving it off-branch to a detached HEAD) to free the
// branch for execution; used to restore it once the plan finishes.
type DetachedWorktree struct {
	WorktreePath string
	Branch       string
}
