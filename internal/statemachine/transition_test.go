package statemachine

import "testing"

// linearState builds a three-job chain a -> b -> c, all pending and all
// queued in PendingJobIDs in that order.
func linearState() RebaseState {
	a := &Job{ID: "a", Branch: "feat/a", Status: JobPending, NewBaseSha: "base0"}
	b := &Job{ID: "b", Branch: "feat/b", Status: JobPending, NewBaseSha: "base0"}
	c := &Job{ID: "c", Branch: "feat/c", Status: JobPending, NewBaseSha: "base0"}
	return RebaseState{
		JobsByID: map[JobID]*Job{"a": a, "b": b, "c": c},
		Queue:    Queue{PendingJobIDs: []JobID{"a", "b", "c"}},
		Session:  Session{Status: SessionIdle},
		Children: map[JobID][]JobID{"a": {"b"}, "b": {"c"}},
	}
}

// diamondState builds a diamond: root -> {left, right} -> tip, where tip
// depends on both left and right completing (tracked only via Children for
// traversal purposes; the queue ordering itself doesn't enforce the join).
func diamondState() RebaseState {
	root := &Job{ID: "root", Status: JobPending, NewBaseSha: "base0"}
	left := &Job{ID: "left", Status: JobPending, NewBaseSha: "base0"}
	right := &Job{ID: "right", Status: JobPending, NewBaseSha: "base0"}
	tip := &Job{ID: "tip", Status: JobPending, NewBaseSha: "base0"}
	return RebaseState{
		JobsByID: map[JobID]*Job{"root": root, "left": left, "right": right, "tip": tip},
		Queue:    Queue{PendingJobIDs: []JobID{"root", "left", "right"}},
		Session:  Session{Status: SessionIdle},
		Children: map[JobID][]JobID{"root": {"left", "right"}, "left": {"tip"}, "right": {"tip"}},
	}
}

func TestStartPlanActivatesFirstJob(t *testing.T) {
	s := linearState()
	next := Transition(s, StartPlan{NowMs: 100})

	if next.Session.Status != SessionRunning {
		t.Fatalf("expected running, got %v", next.Session.Status)
	}
	if next.Queue.ActiveJobID != "a" {
		t.Fatalf("expected a active, got %v", next.Queue.ActiveJobID)
	}
	if next.JobsByID["a"].Status != JobRunning {
		t.Fatalf("expected a running, got %v", next.JobsByID["a"].Status)
	}
	if got := len(next.Queue.PendingJobIDs); got != 2 {
		t.Fatalf("expected 2 still pending, got %d", got)
	}

	// purity: input must be untouched
	if s.Session.Status != SessionIdle || s.Queue.ActiveJobID != "" {
		t.Fatalf("input state was mutated: %+v", s)
	}
}

func TestJobSucceededRewritesDescendantsAndAdvances(t *testing.T) {
	s := linearState()
	s = Transition(s, StartPlan{NowMs: 0})

	s = Transition(s, JobSucceeded{JobID: "a", RebasedHeadSha: "sha-a", NowMs: 10})

	if s.JobsByID["a"].Status != JobCompleted {
		t.Fatalf("expected a completed, got %v", s.JobsByID["a"].Status)
	}
	if s.JobsByID["b"].NewBaseSha != "sha-a" {
		t.Fatalf("expected b rebased onto sha-a, got %v", s.JobsByID["b"].NewBaseSha)
	}
	if s.Queue.ActiveJobID != "b" {
		t.Fatalf("expected b active, got %v", s.Queue.ActiveJobID)
	}
	if s.JobsByID["c"].NewBaseSha != "sha-a" {
		t.Fatalf("expected c (a pending descendant of a) rebased onto sha-a, got %v", s.JobsByID["c"].NewBaseSha)
	}
}

func TestJobSucceededCompletesSessionWhenQueueDrains(t *testing.T) {
	s := RebaseState{
		JobsByID: map[JobID]*Job{"only": {ID: "only", Status: JobPending}},
		Queue:    Queue{ActiveJobID: "only"},
		Session:  Session{Status: SessionRunning},
		Children: map[JobID][]JobID{},
	}
	next := Transition(s, JobSucceeded{JobID: "only", RebasedHeadSha: "sha", NowMs: 42})

	if next.Session.Status != SessionCompleted {
		t.Fatalf("expected completed, got %v", next.Session.Status)
	}
	if next.Session.EndedAtMs != 42 {
		t.Fatalf("expected EndedAtMs 42, got %d", next.Session.EndedAtMs)
	}
	if next.Queue.ActiveJobID != "" {
		t.Fatalf("expected no active job, got %v", next.Queue.ActiveJobID)
	}
}

func TestJobConflictedPausesSessionKeepsJobActive(t *testing.T) {
	s := linearState()
	s = Transition(s, StartPlan{NowMs: 0})

	next := Transition(s, JobConflicted{JobID: "a", ConflictedFiles: []string{"main.go"}})

	if next.Session.Status != SessionPaused {
		t.Fatalf("expected paused, got %v", next.Session.Status)
	}
	if next.Queue.ActiveJobID != "a" {
		t.Fatalf("active job should remain set across a conflict, got %v", next.Queue.ActiveJobID)
	}
	if next.JobsByID["a"].Status != JobRunning {
		t.Fatalf("job status should remain running across a conflict, got %v", next.JobsByID["a"].Status)
	}
}

func TestJobResumedUnpausesAndAdvances(t *testing.T) {
	s := linearState()
	s = Transition(s, StartPlan{NowMs: 0})
	s = Transition(s, JobConflicted{JobID: "a", ConflictedFiles: []string{"x"}})

	next := Transition(s, JobResumed{JobID: "a", RebasedHeadSha: "sha-a", NowMs: 5})

	if next.Session.Status != SessionRunning {
		t.Fatalf("expected running after resume, got %v", next.Session.Status)
	}
	if next.Queue.ActiveJobID != "b" {
		t.Fatalf("expected b active, got %v", next.Queue.ActiveJobID)
	}
}

func TestJobFailedCancelsDescendants(t *testing.T) {
	s := linearState()
	s = Transition(s, StartPlan{NowMs: 0})

	next := Transition(s, JobFailed{JobID: "a", Error: "merge conflict too deep", NowMs: 7})

	if next.JobsByID["a"].Status != JobFailed {
		t.Fatalf("expected a failed, got %v", next.JobsByID["a"].Status)
	}
	if next.JobsByID["b"].Status != JobCancelled || next.JobsByID["c"].Status != JobCancelled {
		t.Fatalf("expected b and c cancelled, got b=%v c=%v", next.JobsByID["b"].Status, next.JobsByID["c"].Status)
	}
	if len(next.Queue.PendingJobIDs) != 0 {
		t.Fatalf("expected empty pending queue, got %v", next.Queue.PendingJobIDs)
	}
	if next.Session.Status != SessionFailed {
		t.Fatalf("expected session failed, got %v", next.Session.Status)
	}
}

func TestJobFailedOnlyCancelsItsOwnBranch(t *testing.T) {
	s := diamondState()
	s = Transition(s, StartPlan{NowMs: 0}) // root active

	next := Transition(s, JobFailed{JobID: "root", Error: "boom", NowMs: 1})

	for _, id := range []JobID{"left", "right", "tip"} {
		if next.JobsByID[id].Status != JobCancelled {
			t.Fatalf("expected %s cancelled, got %v", id, next.JobsByID[id].Status)
		}
	}
}

func TestJobAbortedCancelsActiveAndPending(t *testing.T) {
	s := linearState()
	s = Transition(s, StartPlan{NowMs: 0})

	next := Transition(s, JobAborted{NowMs: 99})

	if next.JobsByID["a"].Status != JobCancelled || next.JobsByID["a"].CancelReason != "aborted by user" {
		t.Fatalf("expected a cancelled with reason, got %+v", next.JobsByID["a"])
	}
	if next.JobsByID["b"].Status != JobCancelled || next.JobsByID["c"].Status != JobCancelled {
		t.Fatalf("expected b and c cancelled, got b=%v c=%v", next.JobsByID["b"].Status, next.JobsByID["c"].Status)
	}
	if next.Session.Status != SessionFailed || next.Session.FailReason != "aborted by user" {
		t.Fatalf("expected session failed with reason, got %+v", next.Session)
	}
	if next.Queue.ActiveJobID != "" || len(next.Queue.PendingJobIDs) != 0 {
		t.Fatalf("expected empty queue, got %+v", next.Queue)
	}
}

func TestExternalCompletionDetectedBehavesLikeSucceededAndEnqueues(t *testing.T) {
	s := diamondState()
	s = Transition(s, StartPlan{NowMs: 0}) // root active, left/right pending

	next := Transition(s, ExternalCompletionDetected{JobID: "root", NewHeadSha: "sha-root", NowMs: 3})

	if next.JobsByID["root"].Status != JobCompleted {
		t.Fatalf("expected root completed, got %v", next.JobsByID["root"].Status)
	}
	if next.JobsByID["left"].NewBaseSha != "sha-root" || next.JobsByID["right"].NewBaseSha != "sha-root" {
		t.Fatalf("expected left/right rebased onto sha-root, got left=%v right=%v",
			next.JobsByID["left"].NewBaseSha, next.JobsByID["right"].NewBaseSha)
	}
}

func TestEnqueueDescendantsSkipsAlreadyQueuedAndTerminalJobs(t *testing.T) {
	s := diamondState()
	s.JobsByID["left"].Status = JobCancelled
	// a cancelled job is no longer queued; right is already queued
	s.Queue.PendingJobIDs = []JobID{"root", "right"}

	next := Transition(s, EnqueueDescendants{Node: "root", ParentNewHeadSha: "sha-root"})

	// left is terminal (cancelled), should not be re-added
	for _, id := range next.Queue.PendingJobIDs {
		if id == "left" {
			t.Fatalf("cancelled job left should not be re-enqueued")
		}
	}
	foundRight := false
	for _, id := range next.Queue.PendingJobIDs {
		if id == "right" {
			foundRight = true
		}
	}
	if !foundRight {
		t.Fatalf("expected right in pending queue, got %v", next.Queue.PendingJobIDs)
	}
}

func TestEnqueueDescendantsWithFreshJobs(t *testing.T) {
	s := RebaseState{
		JobsByID: map[JobID]*Job{"root": {ID: "root", Status: JobCompleted}},
		Queue:    Queue{},
		Session:  Session{Status: SessionRunning},
		Children: map[JobID][]JobID{},
	}
	fresh := &Job{ID: "new-child", Branch: "feat/new", Status: JobPending}

	next := Transition(s, EnqueueDescendants{Node: "root", ParentNewHeadSha: "sha-x", NewJobs: []*Job{fresh}})

	if _, ok := next.JobsByID["new-child"]; !ok {
		t.Fatalf("expected new-child registered in JobsByID")
	}
	if next.JobsByID["new-child"].NewBaseSha != "sha-x" {
		t.Fatalf("expected new-child based on sha-x, got %v", next.JobsByID["new-child"].NewBaseSha)
	}
	if len(next.Queue.PendingJobIDs) != 1 || next.Queue.PendingJobIDs[0] != "new-child" {
		t.Fatalf("expected new-child enqueued, got %v", next.Queue.PendingJobIDs)
	}
	if len(next.Children["root"]) != 1 || next.Children["root"][0] != "new-child" {
		t.Fatalf("expected root->new-child recorded in Children, got %v", next.Children["root"])
	}
}

// TestPendingOrRunningInvariant checks the spec §8 invariant: after any
// sequence of transitions, PendingOrRunningIDs contains exactly the jobs
// whose status is pending or running.
func TestPendingOrRunningInvariant(t *testing.T) {
	seqs := []func() RebaseState{
		func() RebaseState { return Transition(linearState(), StartPlan{NowMs: 0}) },
		func() RebaseState {
			s := Transition(linearState(), StartPlan{NowMs: 0})
			return Transition(s, JobSucceeded{JobID: "a", RebasedHeadSha: "x", NowMs: 1})
		},
		func() RebaseState {
			s := Transition(diamondState(), StartPlan{NowMs: 0})
			return Transition(s, JobFailed{JobID: "root", Error: "e", NowMs: 1})
		},
	}
	for i, build := range seqs {
		s := build()
		want := s.PendingOrRunningIDs()
		for id, job := range s.JobsByID {
			inSet := want[id]
			isPendingOrRunning := job.Status == JobPending || job.Status == JobRunning
			if inSet != isPendingOrRunning {
				t.Fatalf("case %d: job %s status=%v inSet=%v mismatch", i, id, job.Status, inSet)
			}
		}
	}
}

// TestTerminalStatusNeverChanges checks the spec §8 invariant: once a job is
// completed, failed, or cancelled, no further transition changes its status.
func TestTerminalStatusNeverChanges(t *testing.T) {
	s := linearState()
	s = Transition(s, StartPlan{NowMs: 0})
	s = Transition(s, JobSucceeded{JobID: "a", RebasedHeadSha: "x", NowMs: 1})
	if s.JobsByID["a"].Status != JobCompleted {
		t.Fatalf("setup failed")
	}

	// Further unrelated events must not touch a's terminal status.
	s2 := Transition(s, JobFailed{JobID: "b", Error: "e", NowMs: 2})
	if s2.JobsByID["a"].Status != JobCompleted {
		t.Fatalf("terminal status of a changed: %v", s2.JobsByID["a"].Status)
	}

	s3 := Transition(s2, JobAborted{NowMs: 3})
	if s3.JobsByID["a"].Status != JobCompleted {
		t.Fatalf("terminal status of a changed after abort: %v", s3.JobsByID["a"].Status)
	}
}

func TestTransitionIsPure(t *testing.T) {
	s := linearState()
	before := s.Clone()
	_ = Transition(s, StartPlan{NowMs: 0})

	for id, job := range s.JobsByID {
		wantJob := before.JobsByID[id]
		if *job != *wantJob {
			t.Fatalf("input job %s mutated: got %+v want %+v", id, job, wantJob)
		}
	}
	if s.Session != before.Session {
		t.Fatalf("input session mutated")
	}
}
