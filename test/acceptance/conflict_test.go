package acceptance_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rebasectl/rebasectl/internal/rebasectl"
	"github.com/rebasectl/rebasectl/internal/statemachine"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
	"github.com/rebasectl/rebasectl/internal/vcsadapter/vcsadaptertest"
)

var _ = Describe("conflict then continue", func() {
	// Moving A onto m1 where both modify the same file must pause with the
	// conflicted file listed; resolving and calling continue_rebase must
	// drive the plan to completion.
	It("pauses on conflict and completes after continue", func() {
		repoPath := GinkgoT().TempDir()
		fake := vcsadaptertest.New()
		fake.Branches[repoPath] = []vcsadapter.Branch{
			{Ref: "main", HeadSha: "m0", IsTrunk: true},
			{Ref: "A", HeadSha: "a1"},
		}
		fake.Ancestors = map[string]bool{"m0|a1": true}
		fake.Statuses[repoPath] = vcsadapter.WorkingTreeStatus{CurrentBranch: "main"}
		fake.Refs[repoPath] = map[string]string{"main": "m0", "A": "a1"}

		conflicted := true
		fake.RebaseFunc = func(repoPath, onto, from, to string) (vcsadapter.RebaseResult, error) {
			if conflicted {
				return vcsadapter.RebaseResult{Success: false, Conflicts: []string{"shared.go"}}, nil
			}
			return vcsadapter.RebaseResult{Success: true, CurrentCommit: onto}, nil
		}

		svc := newFacade(fake, repoPath)

		submit, err := svc.Submit(context.Background(), repoPath, "a1", "m1")
		Expect(err).NotTo(HaveOccurred())
		Expect(submit.Kind).To(Equal(rebasectl.SubmitOK))

		confirm, err := svc.Confirm(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(confirm.Conflict).To(BeTrue())
		Expect(confirm.Conflicts).To(ContainElement("shared.go"))
		Expect(confirm.UI.State.Session.Status).To(Equal(statemachine.SessionPaused))

		conflicted = false
		cont, err := svc.Continue(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(cont.Ok).To(BeTrue())
		Expect(cont.UI.HasSession).To(BeFalse(), "a fully completed plan clears its session")
	})
})

var _ = Describe("abort restores state", func() {
	// Same conflicted setup; aborting must leave A's head untouched and
	// clear the session entirely.
	It("leaves the branch head unchanged and clears the session", func() {
		repoPath := GinkgoT().TempDir()
		fake := vcsadaptertest.New()
		fake.Branches[repoPath] = []vcsadapter.Branch{
			{Ref: "main", HeadSha: "m0", IsTrunk: true},
			{Ref: "A", HeadSha: "a1"},
		}
		fake.Ancestors = map[string]bool{"m0|a1": true}
		fake.Statuses[repoPath] = vcsadapter.WorkingTreeStatus{CurrentBranch: "main"}
		fake.Refs[repoPath] = map[string]string{"main": "m0", "A": "a1"}
		fake.RebaseFunc = func(repoPath, onto, from, to string) (vcsadapter.RebaseResult, error) {
			return vcsadapter.RebaseResult{Success: false, Conflicts: []string{"shared.go"}}, nil
		}

		svc := newFacade(fake, repoPath)

		submit, err := svc.Submit(context.Background(), repoPath, "a1", "m1")
		Expect(err).NotTo(HaveOccurred())
		Expect(submit.Kind).To(Equal(rebasectl.SubmitOK))

		confirm, err := svc.Confirm(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(confirm.Conflict).To(BeTrue())

		abort, err := svc.Abort(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(abort.Ok).To(BeTrue())
		Expect(abort.UI.HasSession).To(BeFalse())

		head, err := fake.ResolveRef(context.Background(), repoPath, "A")
		Expect(err).NotTo(HaveOccurred())
		Expect(head).To(Equal("a1"), "aborting must not move the branch head")
	})
})

var _ = Describe("abort restores auto-detached worktrees", func() {
	// A sibling worktree has the job's branch checked out and clean; the
	// executor must auto-detach it before rebasing there, and abort must
	// re-attach it to that branch.
	It("re-attaches a clean sibling worktree detached during the run", func() {
		repoPath := GinkgoT().TempDir()
		siblingPath := repoPath + "-sibling"
		fake := vcsadaptertest.New()
		fake.Branches[repoPath] = []vcsadapter.Branch{
			{Ref: "main", HeadSha: "m0", IsTrunk: true},
			{Ref: "A", HeadSha: "a1"},
		}
		fake.Ancestors = map[string]bool{"m0|a1": true}
		fake.Statuses[repoPath] = vcsadapter.WorkingTreeStatus{CurrentBranch: "main"}
		fake.Refs[repoPath] = map[string]string{"main": "m0", "A": "a1"}
		fake.Worktrees[repoPath] = []vcsadapter.Worktree{
			{Path: repoPath, Branch: "main", IsMain: true},
			{Path: siblingPath, Branch: "A", HeadSha: "a1", IsDirty: false},
		}
		fake.RebaseFunc = func(repoPath, onto, from, to string) (vcsadapter.RebaseResult, error) {
			return vcsadapter.RebaseResult{Success: false, Conflicts: []string{"shared.go"}}, nil
		}

		svc := newFacade(fake, repoPath)

		_, err := svc.Submit(context.Background(), repoPath, "a1", "m1")
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.Confirm(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())

		Expect(fake.CheckoutCalls).To(ContainElement(vcsadaptertest.CheckoutCall{
			RepoPath: siblingPath, Ref: "a1", Detach: true,
		}), "the sibling checkout was detached before the job ran")

		_, err = svc.Abort(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())

		Expect(fake.CheckoutCalls).To(ContainElement(vcsadaptertest.CheckoutCall{
			RepoPath: siblingPath, Ref: "A", Detach: false,
		}), "abort must re-attach the sibling to its branch")
	})
})
