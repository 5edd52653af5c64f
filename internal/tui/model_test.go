package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/classifier"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
)

type stubService struct {
	model    *model.Model
	fitErr   error
	items    []classifier.BatchItem
	patterns []string
}

func (s *stubService) Fit(context.Context, []string) (*model.Model, error) {
	return s.model, s.fitErr
}

func (s *stubService) ClassifyPaths(_ context.Context, patterns []string) ([]classifier.BatchItem, error) {
	s.patterns = patterns
	return s.items, nil
}

func (s *stubService) Model() *model.Model { return s.model }

func newStub(t *testing.T) *stubService {
	t.Helper()
	m, err := model.New([]model.Prototype{
		{Class: "metal", Weight: []float64{1, 0}},
		{Class: "paper", Weight: []float64{0, 1}},
	})
	require.NoError(t, err)
	return &stubService{model: m}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestBuildProgress(t *testing.T) {
	svc := newStub(t)
	ch := make(chan domain.Progress)
	m := New(context.Background(), svc, []string{"metal", "paper"}, ch)
	assert.Equal(t, phaseBuilding, m.phase)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})

	m, cmd := update(t, m, progressMsg{Stage: domain.StageClassStarted, Class: "metal", ClassCount: 2, Rounds: 2})
	assert.NotNil(t, cmd)
	m, _ = update(t, m, progressMsg{Stage: domain.StageRoundDone, Class: "metal", ClassCount: 2, Round: 1, Rounds: 2})
	assert.Equal(t, 4, m.total)
	assert.Equal(t, 1, m.done)
	assert.Contains(t, m.View(), "metal")

	// Keys are ignored while building.
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Empty(t, m.input.Value())

	m, _ = update(t, m, fitDoneMsg{})
	assert.Equal(t, phaseReady, m.phase)
	assert.Contains(t, m.View(), "2 classes")
}

func TestFitError(t *testing.T) {
	svc := newStub(t)
	m := New(context.Background(), svc, []string{"metal"}, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	m, _ = update(t, m, fitDoneMsg{err: errors.New("throttled")})
	assert.Equal(t, phaseBuilding, m.phase)
	assert.Contains(t, m.status, "throttled")
}

func TestClassifyFlow(t *testing.T) {
	svc := newStub(t)
	svc.items = []classifier.BatchItem{
		{Image: domain.Image{ID: "imgs/can.jpg"}, Result: &classifier.Result{
			ImageID: "imgs/can.jpg", Class: "metal", Index: 0,
			Scores:  []float64{0.9, 0.2},
			Ranking: []model.Score{{Class: "metal", Index: 0, Score: 0.9}, {Class: "paper", Index: 1, Score: 0.2}},
		}},
		{Image: domain.Image{ID: "imgs/bad.jpg"}, Err: errors.New("unreadable")},
	}
	m := New(context.Background(), svc, nil, nil)
	assert.Equal(t, phaseReady, m.phase)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("imgs/*.jpg")})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, phaseClassifying, m.phase)

	msg := m.classify([]string{"imgs/*.jpg"})()
	m, _ = update(t, m, msg)
	assert.Equal(t, []string{"imgs/*.jpg"}, svc.patterns)
	assert.Equal(t, phaseReady, m.phase)
	assert.Equal(t, "Classified 1 images, 1 failed.", m.status)
	assert.Contains(t, m.renderCurrentResult(), "can.jpg")
	assert.Contains(t, m.renderCurrentResult(), "metal")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.renderCurrentResult(), "unreadable")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.cursor)
}

func TestWaitProgress(t *testing.T) {
	assert.Nil(t, waitProgress(nil))
	ch := make(chan domain.Progress, 1)
	ch <- domain.Progress{Class: "glass"}
	assert.Equal(t, progressMsg{Class: "glass"}, waitProgress(ch)())
	close(ch)
	assert.Nil(t, waitProgress(ch)())
}

func TestBar(t *testing.T) {
	assert.Equal(t, "", bar(0.5, 0, 10))
	assert.Equal(t, "█████", bar(0.5, 1, 10))
	assert.Equal(t, "", bar(-0.1, 1, 10))
}
