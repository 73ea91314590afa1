// Package sessionstore is the two-tier (memory + durable) journal of
// in-flight rebase plans (spec §4.B). Writes go to the durable kvstore
// first, then the in-memory cache is refreshed; reads check memory first
// and warm it from disk on miss.
package sessionstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rebasectl/rebasectl/internal/execctx"
	"github.com/rebasectl/rebasectl/internal/kvstore"
	"github.com/rebasectl/rebasectl/internal/planner"
	"github.com/rebasectl/rebasectl/internal/statemachine"
)

// ErrAlreadyExists is returned by Create when a session already exists for
// the key.
var ErrAlreadyExists = errors.New("sessionstore: session already exists")

// ErrNotFound is returned by operations that require an existing session.
var ErrNotFound = errors.New("sessionstore: no session for key")

// ErrJobNotFound is returned by MarkJobCompleted when the job id isn't in
// the stored state.
var ErrJobNotFound = errors.New("sessionstore: job not found")

const durableKeyPrefix = "session/"

// StoredSession is the persistence shape of one in-flight plan (spec §3).
type StoredSession struct {
	Intent                planner.RebaseIntent
	State                 statemachine.RebaseState
	OriginalBranch        string
	AutoDetachedWorktrees []execctx.DetachedWorktree
	Version               int
	CreatedAtMs           int64
	UpdatedAtMs           int64
}

// Store is the two-tier session journal. All methods are safe for
// concurrent use; a single mutex serialises every mutator so racing
// callers observe strictly ordered version increments (spec §4.B
// concurrency contract).
type Store struct {
	mu     sync.Mutex
	memory map[string]*StoredSession
	kv     *kvstore.Store
	nowMs  func() int64
}

// Open returns a Store backed by a kvstore rooted at baseDir.
func Open(baseDir string, nowMs func() int64) (*Store, error) {
	kv, err := kvstore.Open(baseDir)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: %w", err)
	}
	return &Store{
		memory: make(map[string]*StoredSession),
		kv:     kv,
		nowMs:  nowMs,
	}, nil
}

// CanonicalKey strips trailing separators so a repo path is stable
// regardless of how the caller spelled it.
func CanonicalKey(repoPath string) string {
	return strings.TrimRight(filepath.Clean(repoPath), string(filepath.Separator))
}

func durableKey(key string) string {
	return durableKeyPrefix + key
}

// Get returns the stored session for key, or nil if none exists.
func (s *Store) Get(key string) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) (*StoredSession, error) {
	if cached, ok := s.memory[key]; ok {
		return cached, nil
	}
	var stored StoredSession
	err := s.kv.Get(durableKey(key), &stored)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: loading %s: %w", key, err)
	}
	s.memory[key] = &stored
	return &stored, nil
}

// Create installs a brand-new session for key, failing with
// ErrAlreadyExists if one is already present (CAS with an implicit version
// 0 expectation).
func (s *Store) Create(key string, intent planner.RebaseIntent, state statemachine.RebaseState, originalBranch string) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}

	now := s.nowMs()
	session := &StoredSession{
		Intent:         intent,
		State:          state,
		OriginalBranch: originalBranch,
		Version:        0,
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
	}
	if err := s.persist(key, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Update replaces the stored state for key, incrementing Version and
// refreshing UpdatedAtMs. Fails with ErrNotFound if no session exists.
func (s *Store) Update(key string, state statemachine.RebaseState) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	updated := *existing
	updated.State = state
	updated.Version++
	updated.UpdatedAtMs = s.nowMs()
	if err := s.persist(key, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// MarkJobCompleted is a convenience wrapper around Update that drives the
// stored state through statemachine.Transition for a JobSucceeded event.
func (s *Store) MarkJobCompleted(key string, jobID statemachine.JobID, newSha string) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if _, ok := existing.State.JobsByID[jobID]; !ok {
		return nil, ErrJobNotFound
	}

	nextState := statemachine.Transition(existing.State, statemachine.JobSucceeded{
		JobID:          jobID,
		RebasedHeadSha: newSha,
		NowMs:          s.nowMs(),
	})

	updated := *existing
	updated.State = nextState
	updated.Version++
	updated.UpdatedAtMs = s.nowMs()
	if err := s.persist(key, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// AddDetachedWorktrees appends detached to the session's
// AutoDetachedWorktrees record, incrementing Version. Fails with
// ErrNotFound if no session exists.
func (s *Store) AddDetachedWorktrees(key string, detached []execctx.DetachedWorktree) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if len(detached) == 0 {
		return existing, nil
	}

	updated := *existing
	updated.AutoDetachedWorktrees = append(append([]execctx.DetachedWorktree(nil), existing.AutoDetachedWorktrees...), detached...)
	updated.Version++
	updated.UpdatedAtMs = s.nowMs()
	if err := s.persist(key, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Clear removes the session for key from both tiers.
func (s *Store) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memory, key)
	if err := s.kv.Delete(durableKey(key)); err != nil {
		return fmt.Errorf("sessionstore: clearing %s: %w", key, err)
	}
	return nil
}

// GetAll returns a snapshot copy of every session currently cached in
// memory. It does not scan durable storage for sessions never read in this
// process's lifetime (callers needing the full on-disk set should warm the
// cache first by calling Get for each known repo key).
func (s *Store) GetAll() map[string]StoredSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]StoredSession, len(s.memory))
	for k, v := range s.memory {
		out[k] = *v
	}
	return out
}

// persist writes session to durable storage first, then warms the memory
// cache, per the write-through ordering spec §4.B requires.
func (s *Store) persist(key string, session *StoredSession) error {
	if err := s.kv.Put(durableKey(key), session); err != nil {
		return fmt.Errorf("sessionstore: persisting %s: %w", key, err)
	}
	s.memory[key] = session
	return nil
}
