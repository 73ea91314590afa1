package acceptance_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rebasectl/rebasectl/internal/planner"
	"github.com/rebasectl/rebasectl/internal/reconcile"
	"github.com/rebasectl/rebasectl/internal/sessionstore"
	"github.com/rebasectl/rebasectl/internal/statemachine"
	"github.com/rebasectl/rebasectl/internal/txlog"
	"github.com/rebasectl/rebasectl/internal/vcsadapter"
	"github.com/rebasectl/rebasectl/internal/vcsadapter/vcsadaptertest"
)

var _ = Describe("crash mid-job", func() {
	// An intent execute-job{jobId=J} was written with status=executing when
	// the process died. On restart: if the adapter still reports an active
	// rebase, recovery defers to the conflict-dialog flow (leave the session
	// alive, clear the intent). If the adapter reports no active rebase,
	// the job must be routed through external-completion detection.
	var (
		baseDir string
		nowMs   func() int64
		log     *txlog.Log
		store   *sessionstore.Store
		key     string
		jobID   statemachine.JobID
	)

	BeforeEach(func() {
		baseDir = GinkgoT().TempDir()
		nowMs = func() int64 { return 5000 }

		var err error
		log, err = txlog.Open(baseDir, nowMs)
		Expect(err).NotTo(HaveOccurred())
		store, err = sessionstore.Open(baseDir, nowMs)
		Expect(err).NotTo(HaveOccurred())

		jobID = statemachine.JobID("job-j")
		key = sessionstore.CanonicalKey("/repo")
		state := statemachine.RebaseState{
			JobsByID: map[statemachine.JobID]*statemachine.Job{
				jobID: {ID: jobID, Branch: "A", HeadSha: "a1", Status: statemachine.JobRunning},
			},
			Queue:   statemachine.Queue{ActiveJobID: jobID},
			Session: statemachine.Session{Status: statemachine.SessionRunning},
		}
		_, err = store.Create(key, planner.RebaseIntent{Root: "A"}, state, "main")
		Expect(err).NotTo(HaveOccurred())

		_, err = log.WriteIntent(key, string(jobID), txlog.IntentExecuteJob)
		Expect(err).NotTo(HaveOccurred())
		Expect(log.MarkExecuting(key, string(jobID))).To(Succeed())
	})

	It("defers to the conflict dialog when the tool is still rebasing", func() {
		action, intent, err := log.Recover(key)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(txlog.ActionConsultTool))
		Expect(intent.Context).To(Equal(string(jobID)))

		fake := vcsadaptertest.New()
		fake.RebasingAt = map[string]*vcsadapter.RebaseState{
			"/repo": {Branch: "A", Onto: "m1", CurrentStep: 1, TotalSteps: 1},
		}

		outcome, session, err := reconcile.Reconcile(context.Background(), fake, store, key, "/repo", nowMs())
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(reconcile.OutcomeNoChange), "the session stays alive awaiting user conflict resolution")
		Expect(session).NotTo(BeNil())
		Expect(session.State.Session.Status).To(Equal(statemachine.SessionRunning))

		Expect(log.Clear(key)).To(Succeed())
	})

	It("routes to external-completion detection when the tool has finished", func() {
		action, _, err := log.Recover(key)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(txlog.ActionConsultTool))
		Expect(log.Clear(key)).To(Succeed())

		fake := vcsadaptertest.New()
		fake.RebasingAt = map[string]*vcsadapter.RebaseState{}
		fake.Refs["/repo"] = map[string]string{"A": "a1-finished"}

		outcome, session, err := reconcile.Reconcile(context.Background(), fake, store, key, "/repo", nowMs())
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(reconcile.OutcomeExternalCompletion))
		Expect(session.State.JobsByID[jobID].Status).To(Equal(statemachine.JobCompleted))
		Expect(session.State.JobsByID[jobID].RebasedHeadSha).To(Equal("a1-finished"))
	})
})
