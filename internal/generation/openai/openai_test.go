package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/retry"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: url,
		Model:   "llava",
		Retry:   &retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: time.Second},
	})
	require.NoError(t, err)
	return c
}

func chatServer(t *testing.T, got *capturedRequest, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": reply}}},
		})
	}))
}

func TestGenerateText(t *testing.T) {
	var got capturedRequest
	server := chatServer(t, &got, " paper ")
	defer server.Close()

	out, err := newTestClient(t, server.URL).Generate(context.Background(), domain.TextPrompt("Describe paper."), 0.99)
	require.NoError(t, err)
	assert.Equal(t, "paper", out)
	assert.Equal(t, "llava", got.Model)
	assert.Equal(t, 0.99, got.Temperature)
	require.Len(t, got.Messages, 1)
	assert.JSONEq(t, `"Describe paper."`, string(got.Messages[0].Content))
}

func TestGenerateImage(t *testing.T) {
	var got capturedRequest
	server := chatServer(t, &got, "a can")
	defer server.Close()

	img := domain.Image{MediaType: "image/png", Data: []byte{1, 2, 3}}
	_, err := newTestClient(t, server.URL).Generate(context.Background(), domain.ImagePrompt("What do you see?", img), 0)
	require.NoError(t, err)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	var parts []contentPart
	require.NoError(t, json.Unmarshal(got.Messages[1].Content, &parts))
	require.Len(t, parts, 1)
	assert.Equal(t, "image_url", parts[0].Type)
	assert.True(t, strings.HasPrefix(parts[0].ImageURL.URL, "data:image/png;base64,"))
}

func TestGenerateFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Generate(context.Background(), domain.TextPrompt("x"), 0.1)
	assert.ErrorIs(t, err, domain.ErrGenerationBackend)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()
	_, err = newTestClient(t, empty.URL).Generate(context.Background(), domain.TextPrompt("x"), 0.1)
	assert.ErrorIs(t, err, domain.ErrGenerationBackend)

	_, err = newTestClient(t, empty.URL).Generate(context.Background(), domain.TextPrompt("  "), 0.1)
	assert.ErrorIs(t, err, domain.ErrGenerationBackend)
}
