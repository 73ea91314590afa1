package statemachine

// Event is the sum type of inputs the state machine accepts. Each concrete
// event type below corresponds to one of the named transitions in spec §4.F.
type Event interface {
	isEvent()
}

// StartPlan transitions idle -> running, popping the first pending job.
type StartPlan struct {
	NowMs int64
}

// JobSucceeded marks the active job completed and rewrites every still-
// pending descendant's NewBaseSha to RebasedHeadSha.
type JobSucceeded struct {
	JobID          JobID
	RebasedHeadSha string
	NowMs          int64
}

// JobConflicted pauses the session; the active job remains active.
type JobConflicted struct {
	JobID           JobID
	ConflictedFiles []string
}

// JobResumed is handled identically to JobSucceeded but requires the prior
// session status to be paused.
type JobResumed struct {
	JobID          JobID
	RebasedHeadSha string
	NowMs          int64
}

// JobFailed fails the active job and cancels every pending descendant.
type JobFailed struct {
	JobID JobID
	Error string
	NowMs int64
}

// JobAborted cancels the active job and every pending job.
type JobAborted struct {
	NowMs int64
}

// ExternalCompletionDetected is raised by reconciliation when the tool is no
// longer rebasing but a job was still marked running: treated as
// JobSucceeded, then additionally enqueues any direct children not yet
// queued (spec §4.F).
type ExternalCompletionDetected struct {
	JobID     JobID
	NewHeadSha string
	NowMs     int64
}

// EnqueueDescendants appends every direct-child target of Node to
// PendingJobIDs (if not already present), rewriting NewBaseSha to
// ParentNewHeadSha. NewJobs supplies job definitions for any declared child
// that has no corresponding entry in JobsByID yet (the "fresh ids" case of
// spec §4.F); children that already exist are simply re-added to the queue.
type EnqueueDescendants struct {
	Node             JobID
	ParentNewHeadSha string
	NewJobs          []*Job // pre-built by the caller using an injected ID generator
}

func (StartPlan) isEvent()                  {}
func (JobSucceeded) isEvent()               {}
func (JobConflicted) isEvent()              {}
func (JobResumed) isEvent()                 {}
func (JobFailed) isEvent()                  {}
func (JobAborted) isEvent()                 {}
func (ExternalCompletionDetected) isEvent() {}
func (EnqueueDescendants) isEvent()         {}
