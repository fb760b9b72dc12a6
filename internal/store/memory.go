package store

import (
	"sort"
	"sync"

	"runbot/internal/model"
)

// MemoryStore keeps runs in a mutex-guarded map. The default backend.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]model.RunSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]model.RunSession)}
}

func (s *MemoryStore) Create(run model.RunSession) (model.RunSession, error) {
	return s.put(run)
}

func (s *MemoryStore) Update(run model.RunSession) (model.RunSession, error) {
	return s.put(run)
}

func (s *MemoryStore) put(run model.RunSession) (model.RunSession, error) {
	stored, err := cloneRun(run)
	if err != nil {
		return model.RunSession{}, err
	}
	s.mu.Lock()
	s.runs[stored.ID] = stored
	s.mu.Unlock()
	return run, nil
}

func (s *MemoryStore) Get(runID string) (model.RunSession, bool, error) {
	s.mu.RLock()
	stored, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return model.RunSession{}, false, nil
	}
	out, err := cloneRun(stored)
	if err != nil {
		return model.RunSession{}, false, err
	}
	return out, true, nil
}

func (s *MemoryStore) List() ([]model.RunSession, error) {
	s.mu.RLock()
	out := make([]model.RunSession, 0, len(s.runs))
	for _, run := range s.runs {
		clone, err := cloneRun(run)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, clone)
	}
	s.mu.RUnlock()

	// newest first, matching the sqlite backend's ORDER BY
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt == out[j].UpdatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out, nil
}
