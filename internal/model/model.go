// Package model holds the fitted classifier: the ordered class names and the
// D x numClasses prototype matrix they index. A Model is immutable once built
// and safe for concurrent readers.
package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/vecmath"
)

// UnitTolerance is how far from 1 a prototype norm may drift.
const UnitTolerance = 1e-6

// Prototype is one class and its unit weight vector.
type Prototype struct {
	Class  string
	Weight []float64
}

// Score is the similarity of a query to one class.
type Score struct {
	Class string
	Index int
	Score float64
}

// Model is the classifier produced by prototype construction.
type Model struct {
	classNames []string
	// columns[i] is the weight column of classNames[i].
	columns   [][]float64
	dimension int
}

// New builds a model from prototypes in column order. Inputs are copied.
func New(prototypes []Prototype) (*Model, error) {
	if len(prototypes) == 0 {
		return nil, &domain.ConfigError{Field: "classes", Reason: "no class prototypes"}
	}
	dim := len(prototypes[0].Weight)
	if dim == 0 {
		return nil, &domain.ConfigError{Field: "dimension", Reason: "zero-dimension prototype"}
	}
	m := &Model{
		classNames: make([]string, len(prototypes)),
		columns:    make([][]float64, len(prototypes)),
		dimension:  dim,
	}
	seen := make(map[string]struct{}, len(prototypes))
	for i, p := range prototypes {
		if p.Class == "" {
			return nil, &domain.ConfigError{Field: "classes", Reason: fmt.Sprintf("empty class name at %d", i)}
		}
		if _, dup := seen[p.Class]; dup {
			return nil, &domain.ConfigError{Field: "classes", Reason: fmt.Sprintf("duplicate class %q", p.Class)}
		}
		seen[p.Class] = struct{}{}
		if len(p.Weight) != dim {
			return nil, fmt.Errorf("prototype %q: dimension %d, want %d", p.Class, len(p.Weight), dim)
		}
		m.classNames[i] = p.Class
		m.columns[i] = append([]float64(nil), p.Weight...)
	}
	return m, nil
}

// ClassNames returns the class names in column order.
func (m *Model) ClassNames() []string {
	return append([]string(nil), m.classNames...)
}

// NumClasses returns the number of columns.
func (m *Model) NumClasses() int { return len(m.classNames) }

// Dimension returns D, the length of every prototype.
func (m *Model) Dimension() int { return m.dimension }

// Index returns the column of class, or -1.
func (m *Model) Index(class string) int {
	for i, c := range m.classNames {
		if c == class {
			return i
		}
	}
	return -1
}

// Prototype returns a copy of column i.
func (m *Model) Prototype(i int) Prototype {
	return Prototype{Class: m.classNames[i], Weight: append([]float64(nil), m.columns[i]...)}
}

// Prototypes returns copies of all columns in order.
func (m *Model) Prototypes() []Prototype {
	out := make([]Prototype, len(m.classNames))
	for i := range m.classNames {
		out[i] = m.Prototype(i)
	}
	return out
}

// Scores projects query through the prototype matrix: one dot product per class.
func (m *Model) Scores(query []float64) ([]float64, error) {
	if len(query) != m.dimension {
		return nil, fmt.Errorf("query dimension %d, model dimension %d", len(query), m.dimension)
	}
	scores := make([]float64, len(m.columns))
	for i, col := range m.columns {
		scores[i] = vecmath.Dot(col, query)
	}
	return scores, nil
}

// Argmax returns the index of the highest score; ties go to the lowest index.
// It returns -1 for an empty slice.
func Argmax(scores []float64) int {
	best := -1
	for i, s := range scores {
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}

// Rank returns every class ordered by descending score. Equal scores keep
// column order.
func (m *Model) Rank(scores []float64) []Score {
	out := make([]Score, len(scores))
	for i, s := range scores {
		out[i] = Score{Class: m.classNames[i], Index: i, Score: s}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// WithPrototype returns a new model where class has weight. An existing class
// keeps its column; a new class is appended. The receiver is left untouched.
func (m *Model) WithPrototype(p Prototype) (*Model, error) {
	protos := m.Prototypes()
	if i := m.Index(p.Class); i >= 0 {
		protos[i] = p
	} else {
		protos = append(protos, p)
	}
	return New(protos)
}

// Record is the serializable form of a Model. Weights holds one row per
// class, i.e. the transposed D x numClasses matrix.
type Record struct {
	Version    int         `json:"version" yaml:"version"`
	ID         string      `json:"id,omitempty" yaml:"id,omitempty"`
	ClassNames []string    `json:"class_names" yaml:"class_names"`
	Dimension  int         `json:"dimension" yaml:"dimension"`
	Weights    [][]float64 `json:"weights" yaml:"weights"`
}

// RecordVersion is the current Record layout.
const RecordVersion = 1

// Record exports the model.
func (m *Model) Record(id string) Record {
	weights := make([][]float64, len(m.columns))
	for i, col := range m.columns {
		weights[i] = append([]float64(nil), col...)
	}
	return Record{
		Version:    RecordVersion,
		ID:         id,
		ClassNames: m.ClassNames(),
		Dimension:  m.dimension,
		Weights:    weights,
	}
}

// FromRecord rebuilds a model and checks that every column is a unit vector.
func FromRecord(r Record) (*Model, error) {
	if r.Version != RecordVersion {
		return nil, fmt.Errorf("unsupported model record version %d", r.Version)
	}
	if len(r.ClassNames) != len(r.Weights) {
		return nil, errors.New("model record: class names and weights length mismatch")
	}
	protos := make([]Prototype, len(r.ClassNames))
	for i, c := range r.ClassNames {
		if r.Dimension != 0 && len(r.Weights[i]) != r.Dimension {
			return nil, fmt.Errorf("model record: class %q has dimension %d, want %d", c, len(r.Weights[i]), r.Dimension)
		}
		if n := vecmath.Norm(r.Weights[i]); math.Abs(n-1) > UnitTolerance {
			return nil, fmt.Errorf("model record: class %q is not a unit vector (norm %g)", c, n)
		}
		protos[i] = Prototype{Class: c, Weight: r.Weights[i]}
	}
	return New(protos)
}
