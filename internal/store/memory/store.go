package memory

import (
	"sort"
	"sync"
	"time"

	"organ_report/internal/task"
)

// Store maps task ids to live records for the lifetime of the process.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*task.Record
}

func New() *Store {
	return &Store{
		tasks: make(map[string]*task.Record),
	}
}

func (s *Store) Get(id string) (*task.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tasks[id]
	return r, ok
}

func (s *Store) Put(r *task.Record) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[r.ID()] = r
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// List returns all records, newest first.
func (s *Store) List() []*task.Record {
	s.mu.RLock()
	out := make([]*task.Record, 0, len(s.tasks))
	for _, r := range s.tasks {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].CreatedAt(), out[j].CreatedAt()
		if ci.Equal(cj) {
			return out[i].ID() < out[j].ID()
		}
		return ci.After(cj)
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// SweepTerminal removes terminal records last updated before cutoff and
// returns their ids.
func (s *Store) SweepTerminal(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]string, 0)
	for id, r := range s.tasks {
		if !r.Status().IsTerminal() {
			continue
		}
		if r.UpdatedAt().Before(cutoff) {
			delete(s.tasks, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
