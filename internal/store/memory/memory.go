package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store"
)

// Storage keeps the last saved model for the life of the process.
type Storage struct {
	mu    sync.RWMutex
	model *model.Model
	saves int
}

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Save(_ context.Context, m *model.Model) error {
	if m == nil {
		return errors.New("nil model")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
	s.saves++
	return nil
}

func (s *Storage) Load(_ context.Context) (*model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return nil, store.ErrNotFound
	}
	return s.model, nil
}

// Saves reports how many times Save succeeded.
func (s *Storage) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
