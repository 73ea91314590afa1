// Package statemachine implements the rebase engine's core state machine: a
// pure function from (RebaseState, Event) to RebaseState, per spec §4.F.
// Nothing in this package performs I/O; persistence and effects live in
// sessionstore and executor respectively.
package statemachine

// JobID identifies one job within a plan. Generated by an injected
// generator at plan time so tests can pin deterministic values (spec §4.F
// determinism requirement).
type JobID string

// JobStatus is the lifecycle state of a single job. A job transitions
// exactly pending -> running -> {completed|failed|cancelled}; it never
// returns to pending.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one step of a plan: rebasing one branch.
type Job struct {
	ID             JobID
	Branch         string
	OldBaseSha     string
	NewBaseSha     string
	HeadSha        string
	Status         JobStatus
	RebasedHeadSha string
	Attempts       int
	LastError      string
	CancelReason   string
}

// SessionStatus is the overall lifecycle state of a plan's execution.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session tracks the overall plan lifecycle.
type Session struct {
	Status      SessionStatus
	StartedAtMs int64
	EndedAtMs   int64 // zero means not yet ended
	FailReason  string
}

// Queue tracks which job is active and which are waiting.
type Queue struct {
	ActiveJobID   JobID // empty means none active
	PendingJobIDs []JobID
}

// RebaseState is the full, pure state the machine operates over.
//
// Children is not named explicitly in spec §3's Job/Queue/Session/RebaseState
// field list, but the spec's own transition rules (job_succeeded rewriting
// "every still-pending descendant", enqueue_descendants appending "every
// direct-child target of node") require a tree structure to walk; Children
// carries exactly that. The planner builds it at plan time (spec §4.E); the
// only event handler that changes it is EnqueueDescendants, which records
// each job it creates from NewJobs as a child of Node.
type RebaseState struct {
	JobsByID map[JobID]*Job
	Queue    Queue
	Session  Session
	Children map[JobID][]JobID
}

// Clone returns a deep copy, since the state machine is pure: callers must
// never observe event handlers mutating their input.
func (s RebaseState) Clone() RebaseState {
	out := RebaseState{
		JobsByID: make(map[JobID]*Job, len(s.JobsByID)),
		Queue: Queue{
			ActiveJobID:   s.Queue.ActiveJobID,
			PendingJobIDs: append([]JobID(nil), s.Queue.PendingJobIDs...),
		},
		Session:  s.Session,
		Children: make(map[JobID][]JobID, len(s.Children)),
	}
	for id, j := range s.JobsByID {
		jc := *j
		out.JobsByID[id] = &jc
	}
	for id, children := range s.Children {
		out.Children[id] = append([]JobID(nil), children...)
	}
	return out
}

// PendingOrRunningIDs returns pendingJobIds ∪ {activeJobId?}, matching the
// invariant tested in spec §8.
func (s RebaseState) PendingOrRunningIDs() map[JobID]bool {
	out := make(map[JobID]bool, len(s.Queue.PendingJobIDs)+1)
	for _, id := range s.Queue.PendingJobIDs {
		out[id] = true
	}
	if s.Queue.ActiveJobID != "" {
		out[s.Queue.ActiveJobID] = true
	}
	return out
}
