// Package planner builds a RebasePlan from a repository model and a user
// intent: resolve the stack, build the intent tree, materialize one job per
// target (spec §4.E).
package planner

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rebasectl/rebasectl/internal/repomodel"
	"github.com/rebasectl/rebasectl/internal/statemachine"
)

// IDGen produces job identifiers. Injected so tests can pin deterministic
// ids (spec §4.F determinism requirement extends to planning).
type IDGen func() string

// UUIDGen is the production IDGen, a short opaque string derived from a v4
// UUID.
func UUIDGen() string {
	return uuid.NewString()[:8]
}

// TargetNode is one node of the intent tree: a branch scheduled to move,
// plus its children in stack order.
type TargetNode struct {
	Branch     string
	OldBaseSha string
	NewBaseSha string
	HeadSha    string
	Children   []*TargetNode
}

// RebaseIntent is the declarative request the planner compiles into a plan.
type RebaseIntent struct {
	Root    string
	Targets []*TargetNode
}

// RebasePlan is the planner's output: the intent tree plus the initial,
// idle RebaseState driving execution.
type RebasePlan struct {
	Intent RebaseIntent
	State  statemachine.RebaseState
}

// Request is the user-supplied input: move Branch (and its descendants)
// from its current base onto NewBaseRef.
type Request struct {
	Branch     string
	NewBaseRef string
}

// Rejected reports why an intent could not be planned (spec §4.E's
// "rejects the intent and returns null" cases).
type Rejected struct {
	Reason string
}

func (r *Rejected) Error() string { return r.Reason }

// Plan resolves req against model and returns a RebasePlan, or a *Rejected
// error for any of the spec's refusal cases.
func Plan(model *repomodel.Model, req Request, newBaseSha string, idGen IDGen) (*RebasePlan, error) {
	if idGen == nil {
		idGen = UUIDGen
	}

	moving := model.Branch(req.Branch)
	if moving == nil {
		return nil, &Rejected{Reason: fmt.Sprintf("branch %q does not exist", req.Branch)}
	}
	if newBaseSha == "" {
		return nil, &Rejected{Reason: fmt.Sprintf("new base %q is not a valid ref", req.NewBaseRef)}
	}
	if moving.HeadSha == newBaseSha {
		return nil, &Rejected{Reason: "moving branch head equals the current base (no-op)"}
	}
	if model.IsAncestorBranch(req.Branch, req.NewBaseRef) {
		return nil, &Rejected{Reason: fmt.Sprintf("new base %q is a descendant of %q, would introduce a cycle", req.NewBaseRef, req.Branch)}
	}

	root := &TargetNode{
		Branch:     moving.Ref,
		OldBaseSha: moving.ParentSha,
		NewBaseSha: newBaseSha,
		HeadSha:    moving.HeadSha,
	}
	buildChildren(model, moving, root)

	intent := RebaseIntent{Root: moving.Ref, Targets: []*TargetNode{root}}

	jobsByID := make(map[statemachine.JobID]*statemachine.Job)
	children := make(map[statemachine.JobID][]statemachine.JobID)
	var pending []statemachine.JobID

	var materialize func(node *TargetNode) statemachine.JobID
	materialize = func(node *TargetNode) statemachine.JobID {
		id := statemachine.JobID(idGen())
		jobsByID[id] = &statemachine.Job{
			ID:         id,
			Branch:     node.Branch,
			OldBaseSha: node.OldBaseSha,
			NewBaseSha: node.NewBaseSha,
			HeadSha:    node.HeadSha,
			Status:     statemachine.JobPending,
		}
		pending = append(pending, id)
		for _, child := range node.Children {
			childID := materialize(child)
			children[id] = append(children[id], childID)
		}
		return id
	}
	materialize(root)

	state := statemachine.RebaseState{
		JobsByID: jobsByID,
		Queue:    statemachine.Queue{PendingJobIDs: pending},
		Session:  statemachine.Session{Status: statemachine.SessionIdle},
		Children: children,
	}

	return &RebasePlan{Intent: intent, State: state}, nil
}

// buildChildren appends one TargetNode per descendant branch of node,
// mirroring the model's stack topology. Children inherit their parent's
// current head as a placeholder NewBaseSha, replaced at execution time by
// job_succeeded (spec §4.E step 2).
func buildChildren(model *repomodel.Model, branchNode *repomodel.BranchNode, target *TargetNode) {
	for _, child := range directChildren(model, branchNode.Ref) {
		node := &TargetNode{
			Branch:     child.Ref,
			OldBaseSha: child.ParentSha,
			NewBaseSha: target.HeadSha,
			HeadSha:    child.HeadSha,
		}
		target.Children = append(target.Children, node)
		buildChildren(model, child, node)
	}
}

func directChildren(model *repomodel.Model, ref string) []*repomodel.BranchNode {
	node := model.Branch(ref)
	if node == nil {
		return nil
	}
	out := make([]*repomodel.BranchNode, 0, len(node.Children))
	for _, childRef := range node.Children {
		if child := model.Branch(childRef); child != nil {
			out = append(out, child)
		}
	}
	return out
}
