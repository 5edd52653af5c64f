package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfig marks invalid configuration detected before any remote call.
	ErrConfig = errors.New("configuration error")
	// ErrBackend marks a failed or unusable encoder/generator call.
	ErrBackend = errors.New("inference backend failure")
	// ErrEmbeddingBackend marks a failed encoder call.
	ErrEmbeddingBackend = errors.New("embedding backend error")
	// ErrGenerationBackend marks a failed generator call.
	ErrGenerationBackend = errors.New("generation backend error")
	// ErrDegenerate marks a vector whose norm is too close to zero to normalize.
	ErrDegenerate = errors.New("degenerate vector")
)

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Backend operations.
const (
	OpEmbedText  = "embed-text"
	OpEmbedImage = "embed-image"
	OpGenerate   = "generate"
)

// BackendError wraps the cause of a failed encoder or generator call.
type BackendError struct {
	Op      string
	Backend string
	Err     error
}

// NewEmbeddingError wraps err as an embedding backend error.
func NewEmbeddingError(op, backend string, err error) *BackendError {
	return &BackendError{Op: op, Backend: backend, Err: err}
}

// NewGenerationError wraps err as a generation backend error.
func NewGenerationError(backend string, err error) *BackendError {
	return &BackendError{Op: OpGenerate, Backend: backend, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrBackend:
		return true
	case ErrEmbeddingBackend:
		return e.Op == OpEmbedText || e.Op == OpEmbedImage
	case ErrGenerationBackend:
		return e.Op == OpGenerate
	}
	return false
}

// DegenerateError reports a near-zero vector that could not be normalized.
type DegenerateError struct {
	What string
	Norm float64
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf("degenerate %s vector (norm %g)", e.What, e.Norm)
}

func (e *DegenerateError) Is(target error) bool { return target == ErrDegenerate }

// ClassError attributes a failure to the class being built.
type ClassError struct {
	Class string
	Err   error
}

func (e *ClassError) Error() string {
	return fmt.Sprintf("class %q: %v", e.Class, e.Err)
}

func (e *ClassError) Unwrap() error { return e.Err }

// ImageError attributes a failure to the image being classified.
type ImageError struct {
	ImageID string
	Err     error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %s: %v", e.ImageID, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// WrapBackend returns err as a *BackendError for op, unless it already is one
// or it is a context cancellation.
func WrapBackend(op, backend string, err error) error {
	var be *BackendError
	if errors.As(err, &be) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &BackendError{Op: op, Backend: backend, Err: err}
}
