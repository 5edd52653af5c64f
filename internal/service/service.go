// Package service ties prototype building, persistence and classification
// together for the CLI and the TUI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/classifier"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/logging"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/metrics"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/prototype"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store"
)

// ErrNoModel is returned by classification calls before Fit or Load.
var ErrNoModel = errors.New("no model: fit or load one first")

// ErrNoImages is returned when no pattern matches an image file.
var ErrNoImages = errors.New("no images found")

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// Service holds the current model. It is safe for concurrent use.
type Service struct {
	builder    *prototype.Builder
	classifier *classifier.Classifier
	store      store.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu    sync.RWMutex
	model *model.Model
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStore persists fitted models. Without it models live in memory only.
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

func New(builder *prototype.Builder, clf *classifier.Classifier, opts ...Option) *Service {
	s := &Service{builder: builder, classifier: clf, logger: logging.Discard()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Model returns the current model or nil.
func (s *Service) Model() *model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Service) setModel(ctx context.Context, m *model.Model) error {
	if s.store != nil {
		if err := s.store.Save(ctx, m); err != nil {
			return fmt.Errorf("save model: %w", err)
		}
	}
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
	return nil
}

// Fit builds a classifier for classes, persists it and makes it current.
// On failure the previous model stays current.
func (s *Service) Fit(ctx context.Context, classes []string) (*model.Model, error) {
	start := time.Now()
	m, err := s.builder.BuildClassifier(ctx, classes)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveBuild(m.NumClasses(), time.Since(start))
	}
	if err := s.setModel(ctx, m); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "classifier fitted", "classes", m.NumClasses(), "dimension", m.Dimension(), "took", time.Since(start))
	return m, nil
}

// Refit rebuilds one class prototype, adding the class if it is new.
func (s *Service) Refit(ctx context.Context, class string) (*model.Model, error) {
	cur := s.Model()
	if cur == nil {
		return nil, ErrNoModel
	}
	p, err := s.builder.BuildPrototype(ctx, class)
	if err != nil {
		return nil, err
	}
	next, err := cur.WithPrototype(p)
	if err != nil {
		return nil, err
	}
	if err := s.setModel(ctx, next); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "class refitted", "class", class, "classes", next.NumClasses())
	return next, nil
}

// Load restores the persisted model.
func (s *Service) Load(ctx context.Context) (*model.Model, error) {
	if s.store == nil {
		return nil, errors.New("no store configured")
	}
	m, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "model loaded", "classes", m.NumClasses(), "dimension", m.Dimension())
	return m, nil
}

// Classify classifies one image with the current model.
func (s *Service) Classify(ctx context.Context, image domain.Image) (*classifier.Result, error) {
	m := s.Model()
	if m == nil {
		return nil, ErrNoModel
	}
	res, err := s.classifier.Classify(ctx, image, m)
	s.observe(res, err)
	return res, err
}

// ClassifyPaths expands glob patterns, loads every image file and classifies
// them. Files that cannot be read are reported per item.
func (s *Service) ClassifyPaths(ctx context.Context, patterns []string) ([]classifier.BatchItem, error) {
	m := s.Model()
	if m == nil {
		return nil, ErrNoModel
	}
	paths := ExpandPaths(patterns)
	if len(paths) == 0 {
		return nil, ErrNoImages
	}
	var (
		images  []domain.Image
		failed  []classifier.BatchItem
		indexOf = make(map[string]int, len(paths))
	)
	for i, p := range paths {
		indexOf[p] = i
		img, err := LoadImage(p)
		if err != nil {
			failed = append(failed, classifier.BatchItem{Image: domain.Image{ID: p}, Err: &domain.ImageError{ImageID: p, Err: err}})
			continue
		}
		images = append(images, img)
	}
	items := append(s.classifier.ClassifyBatch(ctx, images, m), failed...)
	for _, it := range items {
		s.observe(it.Result, it.Err)
	}
	sort.SliceStable(items, func(i, j int) bool { return indexOf[items[i].Image.ID] < indexOf[items[j].Image.ID] })
	return items, nil
}

func (s *Service) observe(res *classifier.Result, err error) {
	if s.metrics == nil {
		return
	}
	class := ""
	if res != nil {
		class = res.Class
	}
	s.metrics.ObserveClassification(class, err)
}

// ExpandPaths resolves glob patterns to image files in pattern order without
// duplicates. A pattern that matches nothing is kept as a literal path.
// Directories are expanded one level.
func ExpandPaths(patterns []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] && imageExts[strings.ToLower(filepath.Ext(p))] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.IsDir() {
				entries, _ := os.ReadDir(m)
				for _, e := range entries {
					if !e.IsDir() {
						add(filepath.Join(m, e.Name()))
					}
				}
				continue
			}
			add(m)
		}
	}
	return out
}

// LoadImage reads an image file. The path becomes the image ID.
func LoadImage(path string) (domain.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Image{}, err
	}
	if len(data) == 0 {
		return domain.Image{}, fmt.Errorf("%s: empty file", path)
	}
	return domain.Image{ID: path, MediaType: http.DetectContentType(data), Data: data}, nil
}
