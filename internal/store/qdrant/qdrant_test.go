package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/fake"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/retry"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store"
)

// fakeQdrant keeps one collection in memory and pages scroll results two at a time.
type fakeQdrant struct {
	mu     sync.Mutex
	exists bool
	size   int
	points []json.RawMessage
	calls  []string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	if r.Header.Get("api-key") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodDelete && r.URL.Path == "/collections/protos":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.exists, f.points = false, nil
	case r.Method == http.MethodPut && r.URL.Path == "/collections/protos":
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size = true, body.Vectors.Size
	case r.Method == http.MethodPut && r.URL.Path == "/collections/protos/points":
		var body struct {
			Points []json.RawMessage `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.points = append(f.points, body.Points...)
	case r.Method == http.MethodPost && r.URL.Path == "/collections/protos/points/scroll":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Offset *int `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		start := 0
		if body.Offset != nil {
			start = *body.Offset
		}
		end := start + 2
		var next any
		if end < len(f.points) {
			next = end
		} else {
			end = len(f.points)
		}
		// Return pages in reverse to check that Load orders by index.
		page := make([]json.RawMessage, 0, end-start)
		for i := end - 1; i >= start; i-- {
			page = append(page, f.points[i])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"points": page, "next_page_offset": next},
		})
		return
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
}

func newStorage(url string) *Storage {
	return NewStorage(Config{
		URL:        url,
		APIKey:     "secret",
		Collection: "protos",
		Retry:      &retry.Config{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: time.Second},
	})
}

func TestSaveLoad(t *testing.T) {
	fq := &fakeQdrant{}
	server := httptest.NewServer(fq)
	defer server.Close()

	classes := []string{"glass", "metal", "paper", "plastic", "trash"}
	protos := make([]model.Prototype, len(classes))
	for i, c := range classes {
		protos[i] = model.Prototype{Class: c, Weight: fake.HashVector(c, 6)}
	}
	m, err := model.New(protos)
	require.NoError(t, err)

	s := newStorage(server.URL)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, m))
	assert.Equal(t, 6, fq.size)
	assert.Len(t, fq.points, 5)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, classes, got.ClassNames())
	for i := range classes {
		assert.InDeltaSlice(t, m.Prototype(i).Weight, got.Prototype(i).Weight, 1e-12)
	}

	// Saving again replaces rather than appends.
	require.NoError(t, s.Save(ctx, m))
	assert.Len(t, fq.points, 5)
}

func TestLoadMissing(t *testing.T) {
	server := httptest.NewServer(&fakeQdrant{})
	defer server.Close()
	_, err := newStorage(server.URL).Load(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnauthorized(t *testing.T) {
	fq := &fakeQdrant{}
	server := httptest.NewServer(fq)
	defer server.Close()
	s := NewStorage(Config{URL: server.URL, Collection: "protos"})
	m, err := model.New([]model.Prototype{{Class: "a", Weight: []float64{1, 0}}})
	require.NoError(t, err)
	err = s.Save(context.Background(), m)
	assert.ErrorContains(t, err, "401")
	assert.Len(t, fq.calls, 1)
}
