package store

import (
	"context"
	"sync"

	"github.com/modelsync/collab/internal/model"
)

// Memory keeps models in a map. Models are cloned on the way in and out so
// callers never share state with the store.
type Memory struct {
	mu     sync.RWMutex
	models map[string]*model.Model
}

func NewMemory() *Memory {
	return &Memory{models: make(map[string]*model.Model)}
}

func (s *Memory) Load(_ context.Context, projectID string) (*model.Model, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[projectID]
	if !ok {
		return model.New(projectID), nil
	}
	return m.Clone(), nil
}

func (s *Memory) Persist(_ context.Context, projectID string, m *model.Model) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[projectID] = m.Clone()
	return nil
}

// Count returns the number of persisted projects.
func (s *Memory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

func (s *Memory) Close() error { return nil }
