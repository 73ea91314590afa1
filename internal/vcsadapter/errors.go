package vcsadapter

import "errors"

// Distinguishable adapter failure conditions, per spec §4.A.
var (
	ErrDirtyWorktree    = errors.New("vcsadapter: dirty working tree")
	ErrWorktreeConflict = errors.New("vcsadapter: branch claimed by another worktree")
	ErrRebaseInProgress = errors.New("vcsadapter: rebase already in progress")
	ErrIndexLocked      = errors.New("vcsadapter: index lock present")
	ErrConflict         = errors.New("vcsadapter: conflict raised during rebase")
	ErrNonFastForward   = errors.New("vcsadapter: non-fast-forward push rejected")
	ErrNetwork          = errors.New("vcsadapter: network error")
	ErrTimeout          = errors.New("vcsadapter: operation timed out")
)
