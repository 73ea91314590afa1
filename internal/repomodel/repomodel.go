// Package repomodel is the in-memory stack topology the planner consumes:
// a DAG of branches built from commit ancestry, not from the VCS tool
// directly. Full repository-model construction (walking commits) is out of
// scope (spec.md §1 "Repository-model construction"); besides the shape the
// rest of the engine reads, Build infers each branch's parent from the
// ancestry of branch heads.
package repomodel

import (
	"context"
	"fmt"

	"github.com/rebasectl/rebasectl/internal/vcsadapter"
)

// BranchNode is one branch in the stack topology: its tip commit and the
// parent branch it is stacked on, if any.
type BranchNode struct {
	Ref       string
	HeadSha   string
	ParentRef string // empty for trunk or untracked branches
	ParentSha string // the parent's head at the time this branch forked
	Children  []string
	IsTrunk   bool
}

// Model is a queryable view of the stack: every branch the planner might
// need to resolve descendants for.
type Model struct {
	byRef map[string]*BranchNode
}

// New builds a Model from a flat set of nodes, wiring Children from
// ParentRef back-references.
func New(nodes []*BranchNode) *Model {
	m := &Model{byRef: make(map[string]*BranchNode, len(nodes))}
	for _, n := range nodes {
		m.byRef[n.Ref] = n
	}
	for _, n := range nodes {
		if n.ParentRef == "" {
			continue
		}
		if parent, ok := m.byRef[n.ParentRef]; ok {
			parent.Children = append(parent.Children, n.Ref)
		}
	}
	return m
}

// Branch returns the node for ref, or nil if untracked.
func (m *Model) Branch(ref string) *BranchNode {
	return m.byRef[ref]
}

// AllRefs returns every branch ref in the model, in no particular order.
func (m *Model) AllRefs() []string {
	out := make([]string, 0, len(m.byRef))
	for ref := range m.byRef {
		out = append(out, ref)
	}
	return out
}

// Descendants returns every branch reachable from ref's children,
// transitively, in preorder (parent before child) — the traversal order
// the planner's pendingJobIds invariant requires.
func (m *Model) Descendants(ref string) []*BranchNode {
	var out []*BranchNode
	var walk func(string)
	walk = func(r string) {
		node, ok := m.byRef[r]
		if !ok {
			return
		}
		for _, childRef := range node.Children {
			child := m.byRef[childRef]
			if child == nil {
				continue
			}
			out = append(out, child)
			walk(childRef)
		}
	}
	walk(ref)
	return out
}

// IsAncestorBranch reports whether candidate appears among ref's
// descendants (used to reject cycles: a new base that is itself a
// descendant of the moving branch).
func (m *Model) IsAncestorBranch(ref, candidate string) bool {
	for _, d := range m.Descendants(ref) {
		if d.Ref == candidate {
			return true
		}
	}
	return false
}

// FromBranches adapts a flat vcsadapter.Branch list plus explicit parent
// edges (typically derived by the caller from commit ancestry) into a
// Model. Kept separate from New so callers with only vcsadapter data don't
// need to hand-build BranchNode values themselves.
func FromBranches(branches []vcsadapter.Branch, parentOf map[string]string) *Model {
	nodes := make([]*BranchNode, 0, len(branches))
	for _, b := range branches {
		nodes = append(nodes, &BranchNode{
			Ref:       b.Ref,
			HeadSha:   b.HeadSha,
			ParentRef: parentOf[b.Ref],
			IsTrunk:   b.IsTrunk,
		})
	}
	return New(nodes)
}

// Build queries adapter for every local branch and infers each non-trunk
// branch's stacked parent by commit ancestry: among the other branches
// whose head is an ancestor of a given branch's head, its parent is the
// closest one (the one not itself an ancestor of any other candidate).
// This is the minimal concrete topology builder a planner needs to run
// end-to-end; spec.md §1 scopes full repository-model construction (commit
// graph walking, rename tracking, etc.) out, so this intentionally only
// covers the ancestry relation the planner actually consumes.
func Build(ctx context.Context, adapter vcsadapter.Adapter, repoPath string, trunkNames map[string]bool) (*Model, error) {
	branches, err := adapter.ListBranches(ctx, repoPath, vcsadapter.BranchesLocalOnly)
	if err != nil {
		return nil, fmt.Errorf("repomodel: listing branches: %w", err)
	}

	nodes := make([]*BranchNode, 0, len(branches))
	for _, b := range branches {
		isTrunk := b.IsTrunk || trunkNames[b.Ref]
		nodes = append(nodes, &BranchNode{Ref: b.Ref, HeadSha: b.HeadSha, IsTrunk: isTrunk})
	}

	for _, n := range nodes {
		if n.IsTrunk {
			continue
		}
		var candidates []*BranchNode
		for _, other := range nodes {
			if other.Ref == n.Ref {
				continue
			}
			ok, err := adapter.IsAncestor(ctx, repoPath, other.HeadSha, n.HeadSha)
			if err != nil {
				return nil, fmt.Errorf("repomodel: checking ancestry of %s against %s: %w", other.Ref, n.Ref, err)
			}
			if ok {
				candidates = append(candidates, other)
			}
		}

		var parent *BranchNode
		for _, c := range candidates {
			isClosest := true
			for _, other := range candidates {
				if other.Ref == c.Ref {
					continue
				}
				ok, err := adapter.IsAncestor(ctx, repoPath, c.HeadSha, other.HeadSha)
				if err != nil {
					return nil, fmt.Errorf("repomodel: comparing candidates for %s: %w", n.Ref, err)
				}
				if ok {
					isClosest = false
					break
				}
			}
			if isClosest {
				parent = c
				break
			}
		}
		if parent != nil {
			n.ParentRef = parent.Ref
			n.ParentSha = parent.HeadSha
		}
	}

	return New(nodes), nil
}
