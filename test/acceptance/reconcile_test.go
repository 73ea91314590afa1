package acceptance_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rebasectl/rebasectl/internal/planner"
	"github.com/rebasectl/rebasectl/internal/reconcile"
	"github.com/rebasectl/rebasectl/internal/sessionstore"
	"github.com/rebasectl/rebasectl/internal/statemachine"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
	"github.com/rebasectl/rebasectl/internal/vcsadapter/vcsadaptertest"
)

func sessionWithActiveJob(aID, bID statemachine.JobID) statemachine.RebaseState {
	return statemachine.RebaseState{
		JobsByID: map[statemachine.JobID]*statemachine.Job{
			aID: {ID: aID, Branch: "A", HeadSha: "a1", Status: statemachine.JobRunning},
			bID: {ID: bID, Branch: "B", HeadSha: "b1", Status: statemachine.JobPending},
		},
		Queue:    statemachine.Queue{ActiveJobID: aID, PendingJobIDs: []statemachine.JobID{bID}},
		Session:  statemachine.Session{Status: statemachine.SessionRunning},
		Children: map[statemachine.JobID][]statemachine.JobID{aID: {bID}},
	}
}

var _ = Describe("external completion", func() {
	// A session has an active job for A; the user runs `rebase --continue`
	// in a terminal and the tool finishes before the engine's next read.
	// get_rebase_status must observe the tool is idle, mark A completed
	// using its observed head, and advance the queue to A's children.
	It("marks the active job completed using the observed head and enqueues its children", func() {
		baseDir := GinkgoT().TempDir()
		nowMs := func() int64 { return 1000 }

		store, err := sessionstore.Open(baseDir, nowMs)
		Expect(err).NotTo(HaveOccurred())

		aID := statemachine.JobID("job-a")
		bID := statemachine.JobID("job-b")
		key := sessionstore.CanonicalKey("/repo")
		_, err = store.Create(key, planner.RebaseIntent{Root: "A"}, sessionWithActiveJob(aID, bID), "main")
		Expect(err).NotTo(HaveOccurred())

		fake := vcsadaptertest.New()
		fake.Refs["/repo"] = map[string]string{"A": "a1-completed-externally"}
		fake.RebasingAt = map[string]*vcsadapter.RebaseState{} // no active rebase: the tool already finished

		outcome, updated, err := reconcile.Reconcile(context.Background(), fake, store, key, "/repo", nowMs())
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(reconcile.OutcomeExternalCompletion))
		Expect(updated.State.JobsByID[aID].Status).To(Equal(statemachine.JobCompleted))
		Expect(updated.State.JobsByID[aID].RebasedHeadSha).To(Equal("a1-completed-externally"))
		Expect(updated.State.Queue.ActiveJobID).To(Equal(bID), "B must be picked up next since it was A's only child")
	})
})

var _ = Describe("orphaned rebase", func() {
	// The tool is mid-rebase but no session is recorded for the repository:
	// reconciliation must not invent or mutate any state.
	It("reports an orphaned rebase without touching the store", func() {
		baseDir := GinkgoT().TempDir()
		nowMs := func() int64 { return 1000 }
		store, err := sessionstore.Open(baseDir, nowMs)
		Expect(err).NotTo(HaveOccurred())

		fake := vcsadaptertest.New()
		fake.RebasingAt = map[string]*vcsadapter.RebaseState{
			"/repo": {Onto: "m1", CurrentStep: 1, TotalSteps: 3},
		}

		key := sessionstore.CanonicalKey("/repo")
		outcome, session, err := reconcile.Reconcile(context.Background(), fake, store, key, "/repo", nowMs())
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(reconcile.OutcomeOrphanedRebase))
		Expect(session).To(BeNil())
	})
})

var _ = Describe("drained session with no tool activity", func() {
	// Every job has finished, no job is active, and the tool reports no
	// rebase in progress: the session is fully drained and must be cleared.
	It("clears the session", func() {
		baseDir := GinkgoT().TempDir()
		nowMs := func() int64 { return 1000 }
		store, err := sessionstore.Open(baseDir, nowMs)
		Expect(err).NotTo(HaveOccurred())

		aID := statemachine.JobID("job-a")
		state := statemachine.RebaseState{
			JobsByID: map[statemachine.JobID]*statemachine.Job{
				aID: {ID: aID, Branch: "A", HeadSha: "a1", Status: statemachine.JobCompleted},
			},
			Queue:   statemachine.Queue{},
			Session: statemachine.Session{Status: statemachine.SessionCompleted},
		}
		key := sessionstore.CanonicalKey("/repo")
		_, err = store.Create(key, planner.RebaseIntent{Root: "A"}, state, "main")
		Expect(err).NotTo(HaveOccurred())

		fake := vcsadaptertest.New()

		outcome, session, err := reconcile.Reconcile(context.Background(), fake, store, key, "/repo", nowMs())
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(reconcile.OutcomeCleared))
		Expect(session).To(BeNil())

		stored, err := store.Get(key)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(BeNil())
	})
})
