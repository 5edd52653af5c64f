// Package store persists trained classifiers.
package store

import (
	"context"
	"errors"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("model not found")

// Store saves and loads a single model.
type Store interface {
	Save(ctx context.Context, m *model.Model) error
	Load(ctx context.Context) (*model.Model, error)
}
