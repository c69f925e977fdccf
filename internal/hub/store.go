package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robot-teleop/hub/internal/journal"
	"github.com/robot-teleop/hub/internal/model"
	"github.com/robot-teleop/hub/internal/repository"
	"github.com/robot-teleop/hub/pkg/state"
)

// Store holds the hub's authoritative state. Updates are merged shallowly,
// persisted when a repository is configured, and recorded in the journal.
type Store struct {
	repo    *repository.StateRepository // nil disables persistence
	journal *journal.Journal

	mu sync.RWMutex
	st state.State
}

// NewStore creates a Store. repo may be nil for a memory-only hub; j may be
// nil to disable the update journal.
func NewStore(repo *repository.StateRepository, j *journal.Journal) *Store {
	return &Store{
		repo:    repo,
		journal: j,
		st:      make(state.State),
	}
}

// Load seeds the store from the persisted state. A hub restarted mid-flight
// resumes with the last accepted values.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	persisted, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	s.mu.Lock()
	s.st.Merge(persisted)
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current authoritative state.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Clone()
}

// Apply merges partial into the authoritative state, persists the accepted
// keys, and journals the update. The client-local "status" key is never
// accepted from the wire. Returns the accepted partial (what subscribers
// should be told) or an error when nothing was accepted.
func (s *Store) Apply(ctx context.Context, partial map[string]any, source string) (map[string]any, error) {
	accepted := make(map[string]any, len(partial))
	for k, v := range partial {
		if k == state.KeyStatus {
			continue
		}
		accepted[k] = v
	}
	if len(accepted) == 0 {
		return nil, model.ErrEmptyUpdate
	}

	s.mu.Lock()
	s.st.Merge(accepted)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.UpsertAll(ctx, accepted); err != nil {
			return nil, fmt.Errorf("failed to persist update: %w", err)
		}
	}

	if s.journal != nil {
		keys := make([]string, 0, len(accepted))
		for k := range accepted {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s.journal.Append(journal.Entry{
			Keys:   keys,
			Source: source,
			At:     time.Now().UTC(),
		})
	}

	return accepted, nil
}

// Journal returns the recent-update journal, or nil when disabled.
func (s *Store) Journal() *journal.Journal {
	return s.journal
}
