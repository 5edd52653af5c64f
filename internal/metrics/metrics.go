// Package metrics provides Prometheus metrics for backend calls, prototype
// building and classification.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

const namespace = "wdys"

// Metrics holds all collectors.
type Metrics struct {
	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	PrototypesBuilt prometheus.Counter
	BuildDuration   prometheus.Histogram
	Classifications *prometheus.CounterVec
	ClassifyErrors  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Total number of encoder and generator calls",
		}, []string{"backend", "op", "status"}),
		BackendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Latency of encoder and generator calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"backend", "op"}),
		PrototypesBuilt: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prototypes_built_total",
			Help:      "Total number of class prototypes built",
		}),
		BuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of building a whole classifier",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of classified images by predicted class",
		}, []string{"class"}),
		ClassifyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_errors_total",
			Help:      "Total number of images that failed to classify",
		}),
	}
}

// ObserveBuild records a finished classifier build of n prototypes.
func (m *Metrics) ObserveBuild(n int, took time.Duration) {
	m.PrototypesBuilt.Add(float64(n))
	m.BuildDuration.Observe(took.Seconds())
}

// ObserveClassification records one classification outcome.
func (m *Metrics) ObserveClassification(class string, err error) {
	if err != nil {
		m.ClassifyErrors.Inc()
		return
	}
	m.Classifications.WithLabelValues(class).Inc()
}

func (m *Metrics) observeCall(backend, op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "canceled"
	case err != nil:
		status = "error"
	}
	m.BackendCalls.WithLabelValues(backend, op, status).Inc()
	m.BackendDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

type encoder struct {
	next domain.Encoder
	m    *Metrics
}

// InstrumentEncoder counts and times every call on next.
func (m *Metrics) InstrumentEncoder(next domain.Encoder) domain.Encoder {
	return &encoder{next: next, m: m}
}

func (e *encoder) Name() string   { return e.next.Name() }
func (e *encoder) Dimension() int { return e.next.Dimension() }

func (e *encoder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	t := time.Now()
	v, err := e.next.EmbedText(ctx, text)
	e.m.observeCall(e.next.Name(), domain.OpEmbedText, t, err)
	return v, err
}

func (e *encoder) EmbedImage(ctx context.Context, image domain.Image) ([]float64, error) {
	t := time.Now()
	v, err := e.next.EmbedImage(ctx, image)
	e.m.observeCall(e.next.Name(), domain.OpEmbedImage, t, err)
	return v, err
}

type generator struct {
	next domain.Generator
	m    *Metrics
}

// InstrumentGenerator counts and times every call on next.
func (m *Metrics) InstrumentGenerator(next domain.Generator) domain.Generator {
	return &generator{next: next, m: m}
}

func (g *generator) Name() string { return g.next.Name() }

func (g *generator) Generate(ctx context.Context, prompt domain.Prompt, temperature float64) (string, error) {
	t := time.Now()
	out, err := g.next.Generate(ctx, prompt, temperature)
	g.m.observeCall(g.next.Name(), domain.OpGenerate, t, err)
	return out, err
}
