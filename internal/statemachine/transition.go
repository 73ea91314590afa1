package statemachine

// Transition applies ev to state and returns the resulting state. It is a
// pure function: identical (state, event) pairs always produce identical
// results, and the input state is never mutated (spec §4.F determinism
// requirement).
func Transition(state RebaseState, ev Event) RebaseState {
	next := state.Clone()
	switch e := ev.(type) {
	case StartPlan:
		applyStartPlan(&next, e)
	case JobSucceeded:
		applyJobSucceeded(&next, e.JobID, e.RebasedHeadSha, e.NowMs)
	case JobResumed:
		if next.Session.Status == SessionPaused {
			applyJobSucceeded(&next, e.JobID, e.RebasedHeadSha, e.NowMs)
		}
	case JobConflicted:
		applyJobConflicted(&next, e)
	case JobFailed:
		applyJobFailed(&next, e)
	case JobAborted:
		applyJobAborted(&next, e)
	case ExternalCompletionDetected:
		applyJobSucceeded(&next, e.JobID, e.NewHeadSha, e.NowMs)
		applyEnqueueDescendants(&next, EnqueueDescendants{Node: e.JobID, ParentNewHeadSha: e.NewHeadSha})
	case EnqueueDescendants:
		applyEnqueueDescendants(&next, e)
	}
	return next
}

func applyStartPlan(s *RebaseState, e StartPlan) {
	if s.Session.Status != SessionIdle {
		return
	}
	s.Session.Status = SessionRunning
	s.Session.StartedAtMs = e.NowMs
	popNextJob(s)
}

// popNextJob moves the head of PendingJobIDs into ActiveJobID, marking it
// running. If the queue is already empty or a job is already active, it is
// a no-op.
func popNextJob(s *RebaseState) {
	if s.Queue.ActiveJobID != "" {
		return
	}
	if len(s.Queue.PendingJobIDs) == 0 {
		return
	}
	next := s.Queue.PendingJobIDs[0]
	s.Queue.PendingJobIDs = s.Queue.PendingJobIDs[1:]
	s.Queue.ActiveJobID = next
	if job, ok := s.JobsByID[next]; ok {
		job.Status = JobRunning
		job.Attempts++
	}
}

// rewritePendingDescendants walks Children[node] (and transitively further
// descendants) rewriting NewBaseSha to newHeadSha for every job still
// pending, per spec §4.F / the round-trip invariant in §8.
func rewritePendingDescendants(s *RebaseState, node JobID, newHeadSha string) {
	for _, childID := range s.Children[node] {
		job, ok := s.JobsByID[childID]
		if !ok {
			continue
		}
		if job.Status == JobPending {
			job.NewBaseSha = newHeadSha
		}
		rewritePendingDescendants(s, childID, newHeadSha)
	}
}

func applyJobSucceeded(s *RebaseState, jobID JobID, rebasedHeadSha string, nowMs int64) {
	if s.Queue.ActiveJobID != jobID {
		return
	}
	job, ok := s.JobsByID[jobID]
	if !ok {
		return
	}
	job.Status = JobCompleted
	job.RebasedHeadSha = rebasedHeadSha
	s.Queue.ActiveJobID = ""

	rewritePendingDescendants(s, jobID, rebasedHeadSha)

	if len(s.Queue.PendingJobIDs) > 0 {
		popNextJob(s)
		if s.Session.Status == SessionPaused {
			s.Session.Status = SessionRunning
		}
		return
	}
	s.Session.Status = SessionCompleted
	s.Session.EndedAtMs = nowMs
}

func applyJobConflicted(s *RebaseState, e JobConflicted) {
	if s.Queue.ActiveJobID != e.JobID {
		return
	}
	s.Session.Status = SessionPaused
	if job, ok := s.JobsByID[e.JobID]; ok {
		job.LastError = conflictSummary(e.ConflictedFiles)
	}
}

func conflictSummary(files []string) string {
	if len(files) == 0 {
		return "conflict"
	}
	out := "conflict in "
	for i, f := range files {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}

// cancelDescendants marks every pending descendant of node (transitively)
// cancelled with reason, removing them from PendingJobIDs.
func cancelDescendants(s *RebaseState, node JobID, reason string) {
	toCancel := make(map[JobID]bool)
	var walk func(JobID)
	walk = func(id JobID) {
		for _, child := range s.Children[id] {
			job, ok := s.JobsByID[child]
			if !ok {
				continue
			}
			if job.Status == JobPending {
				toCancel[child] = true
			}
			walk(child)
		}
	}
	walk(node)

	if len(toCancel) == 0 {
		return
	}
	for id := range toCancel {
		job := s.JobsByID[id]
		job.Status = JobCancelled
		job.CancelReason = reason
	}
	filtered := s.Queue.PendingJobIDs[:0:0]
	for _, id := range s.Queue.PendingJobIDs {
		if toCancel[id] {
			continue
		}
		filtered = append(filtered, id)
	}
	s.Queue.PendingJobIDs = filtered
}

func applyJobFailed(s *RebaseState, e JobFailed) {
	if s.Queue.ActiveJobID != e.JobID {
		return
	}
	job, ok := s.JobsByID[e.JobID]
	if !ok {
		return
	}
	job.Status = JobFailed
	job.LastError = e.Error
	s.Queue.ActiveJobID = ""

	cancelDescendants(s, e.JobID, "ancestor failed")

	s.Session.Status = SessionFailed
	s.Session.FailReason = "ancestor failed"
	s.Session.EndedAtMs = e.NowMs
}

func applyJobAborted(s *RebaseState, e JobAborted) {
	active := s.Queue.ActiveJobID
	if active != "" {
		if job, ok := s.JobsByID[active]; ok {
			job.Status = JobCancelled
			job.CancelReason = "aborted by user"
		}
		s.Queue.ActiveJobID = ""
	}
	for _, id := range s.Queue.PendingJobIDs {
		if job, ok := s.JobsByID[id]; ok {
			job.Status = JobCancelled
			job.CancelReason = "aborted by user"
		}
	}
	s.Queue.PendingJobIDs = nil
	s.Session.Status = SessionFailed
	s.Session.FailReason = "aborted by user"
	s.Session.EndedAtMs = e.NowMs
}

func applyEnqueueDescendants(s *RebaseState, e EnqueueDescendants) {
	existing := make(map[JobID]bool, len(s.Children[e.Node]))
	for _, id := range s.Children[e.Node] {
		existing[id] = true
	}

	alreadyQueued := make(map[JobID]bool)
	for _, id := range s.Queue.PendingJobIDs {
		alreadyQueued[id] = true
	}
	if s.Queue.ActiveJobID != "" {
		alreadyQueued[s.Queue.ActiveJobID] = true
	}

	for _, childID := range s.Children[e.Node] {
		job, ok := s.JobsByID[childID]
		if !ok || alreadyQueued[childID] {
			continue
		}
		if job.Status == JobCompleted || job.Status == JobFailed || job.Status == JobCancelled {
			continue
		}
		job.NewBaseSha = e.ParentNewHeadSha
		s.Queue.PendingJobIDs = append(s.Queue.PendingJobIDs, childID)
	}

	for _, job := range e.NewJobs {
		if existing[job.ID] {
			continue
		}
		job.Status = JobPending
		job.NewBaseSha = e.ParentNewHeadSha
		s.JobsByID[job.ID] = job
		s.Children[e.Node] = append(s.Children[e.Node], job.ID)
		s.Queue.PendingJobIDs = append(s.Queue.PendingJobIDs, job.ID)
	}
}
