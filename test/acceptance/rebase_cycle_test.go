package acceptance_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rebasectl/rebasectl/internal/rcconfig"
	"github.com/rebasectl/rebasectl/internal/rebasectl"
	"github.com/rebasectl/rebasectl/internal/telemetry"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
	"github.com/rebasectl/rebasectl/internal/vcsadapter/vcsadaptertest"
)

func newFacade(fake *vcsadaptertest.Fake, repoPath string) *rebasectl.Service {
	cfg := &rcconfig.Config{TrunkBranches: []string{"main"}}
	svc, err := rebasectl.New(fake, repoPath, cfg, telemetry.Noop(), func() int64 { return 0 })
	Expect(err).NotTo(HaveOccurred())
	return svc
}

var _ = Describe("linear stack cascade", func() {
	// Branches A(head=a1,base=m0), B(head=b1,base=a1), C(head=c1,base=b1)
	// stacked on trunk m0. Moving A onto m1 must replay B onto rebased A and
	// C onto rebased B, in order.
	It("replays every descendant in stack order", func() {
		repoPath := GinkgoT().TempDir()
		fake := vcsadaptertest.New()
		fake.Branches[repoPath] = []vcsadapter.Branch{
			{Ref: "main", HeadSha: "m0", IsTrunk: true},
			{Ref: "A", HeadSha: "a1"},
			{Ref: "B", HeadSha: "b1"},
			{Ref: "C", HeadSha: "c1"},
		}
		fake.Ancestors = map[string]bool{
			"m0|a1": true,
			"a1|b1": true,
			"b1|c1": true,
		}
		fake.Statuses[repoPath] = vcsadapter.WorkingTreeStatus{CurrentBranch: "main"}
		fake.Refs[repoPath] = map[string]string{
			"main": "m0", "A": "a1", "B": "b1", "C": "c1",
		}

		svc := newFacade(fake, repoPath)

		submit, err := svc.Submit(context.Background(), repoPath, "a1", "m1")
		Expect(err).NotTo(HaveOccurred())
		Expect(submit.Kind).To(Equal(rebasectl.SubmitOK))
		Expect(submit.PreviewUI.State.JobsByID).To(HaveLen(3))

		confirm, err := svc.Confirm(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(confirm.Ok).To(BeTrue())
		Expect(confirm.UI.HasSession).To(BeFalse(), "a fully completed plan clears its session")
	})
})

var _ = Describe("diamond descendants", func() {
	// A has two direct children, B and C. Moving A must produce three jobs
	// and rebase both children onto A's post-rebase head with no
	// cross-interaction between them.
	It("schedules both children independently", func() {
		repoPath := GinkgoT().TempDir()
		fake := vcsadaptertest.New()
		fake.Branches[repoPath] = []vcsadapter.Branch{
			{Ref: "main", HeadSha: "m0", IsTrunk: true},
			{Ref: "A", HeadSha: "a1"},
			{Ref: "B", HeadSha: "b1"},
			{Ref: "C", HeadSha: "c1"},
		}
		fake.Ancestors = map[string]bool{
			"m0|a1": true,
			"a1|b1": true,
			"a1|c1": true,
		}
		fake.Statuses[repoPath] = vcsadapter.WorkingTreeStatus{CurrentBranch: "main"}
		fake.Refs[repoPath] = map[string]string{
			"main": "m0", "A": "a1", "B": "b1", "C": "c1",
		}

		svc := newFacade(fake, repoPath)

		submit, err := svc.Submit(context.Background(), repoPath, "a1", "m1")
		Expect(err).NotTo(HaveOccurred())
		Expect(submit.Kind).To(Equal(rebasectl.SubmitOK))
		Expect(submit.PreviewUI.State.JobsByID).To(HaveLen(3))

		var bJob, cJob string
		for _, job := range submit.PreviewUI.State.JobsByID {
			switch job.Branch {
			case "B":
				bJob = string(job.ID)
			case "C":
				cJob = string(job.ID)
			}
		}
		Expect(bJob).NotTo(BeEmpty())
		Expect(cJob).NotTo(BeEmpty())

		confirm, err := svc.Confirm(context.Background(), repoPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(confirm.Ok).To(BeTrue())
	})
})
