// Package qdrant stores a model in a Qdrant collection, one point per class.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/retry"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store"
)

const scrollPage = 256

// Storage is a minimal REST client to Qdrant.
// Save recreates the collection with cosine distance on every call.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	retry      retry.Config
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	Retry      *retry.Config
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "wdys_prototypes"
	}
	rc := retry.DefaultConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		retry:      rc,
	}
}

type point struct {
	ID      int            `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Save replaces the collection contents with the prototypes of m.
func (s *Storage) Save(ctx context.Context, m *model.Model) error {
	if m == nil {
		return errors.New("nil model")
	}
	if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil, http.StatusNotFound); err != nil {
		return err
	}
	create := map[string]any{
		"vectors": map[string]any{
			"size":     m.Dimension(),
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), create, nil); err != nil {
		return err
	}
	modelID := uuid.NewString()
	protos := m.Prototypes()
	points := make([]point, len(protos))
	for i, p := range protos {
		points[i] = point{
			ID:     i,
			Vector: p.Weight,
			Payload: map[string]any{
				"class":    p.Class,
				"index":    i,
				"model_id": modelID,
			},
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil)
}

// Load scrolls every point back and rebuilds the model in index order.
func (s *Storage) Load(ctx context.Context) (*model.Model, error) {
	type scrolled struct {
		Payload struct {
			Class string `json:"class"`
			Index int    `json:"index"`
		} `json:"payload"`
		Vector []float64 `json:"vector"`
	}
	var all []scrolled
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []scrolled `json:"points"`
				NextPageOffset any        `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/scroll", req, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Result.Points...)
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	if len(all) == 0 {
		return nil, store.ErrNotFound
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Payload.Index < all[j].Payload.Index })
	rec := model.Record{Version: model.RecordVersion, Dimension: len(all[0].Vector)}
	for _, p := range all {
		rec.ClassNames = append(rec.ClassNames, p.Payload.Class)
		rec.Weights = append(rec.Weights, p.Vector)
	}
	return model.FromRecord(rec)
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// do sends one JSON request with retries. Statuses listed in ok are treated
// as success besides 2xx. A 404 on any other call means the model is absent.
func (s *Storage) do(ctx context.Context, method, url string, body, out any, ok ...int) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return err
		}
	}
	return retry.Do(ctx, s.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("api-key", s.apiKey)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		for _, code := range ok {
			if resp.StatusCode == code {
				return nil
			}
		}
		switch {
		case retry.Retryable(resp.StatusCode):
			retry.WaitRetryAfter(ctx, resp)
			return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
		case resp.StatusCode == http.StatusNotFound:
			return retry.Permanent(store.ErrNotFound)
		case resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Permanent(fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg)))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Permanent(fmt.Errorf("qdrant: decode response: %w", err))
			}
		}
		return nil
	})
}
