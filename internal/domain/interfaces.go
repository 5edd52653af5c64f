package domain

import "context"

// Image is a single image handed to the encoder or the generator.
type Image struct {
	ID        string
	MediaType string
	Data      []byte
}

// PromptKind distinguishes the two prompt shapes a Generator accepts.
type PromptKind int

const (
	// PromptText is a plain text completion request.
	PromptText PromptKind = iota
	// PromptImage is a system prompt grounded on an image.
	PromptImage
)

// Prompt is a tagged variant: either a text prompt or a (system prompt, image) pair.
// Build it with TextPrompt or ImagePrompt.
type Prompt struct {
	Kind   PromptKind
	Text   string
	System string
	Image  Image
}

// TextPrompt builds a text-only prompt.
func TextPrompt(text string) Prompt {
	return Prompt{Kind: PromptText, Text: text}
}

// ImagePrompt builds an image-grounded prompt.
func ImagePrompt(system string, image Image) Prompt {
	return Prompt{Kind: PromptImage, System: system, Image: image}
}

// Encoder maps text or images into a shared fixed-dimension embedding space.
type Encoder interface {
	Name() string
	Dimension() int
	EmbedText(ctx context.Context, text string) ([]float64, error)
	EmbedImage(ctx context.Context, image Image) ([]float64, error)
}

// Generator produces text for a prompt. Temperature 0 is deterministic,
// values near 1 maximize diversity. No history is kept between calls.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt Prompt, temperature float64) (string, error)
}

// Stage identifies what a Progress event reports.
type Stage int

const (
	StageClassStarted Stage = iota
	StageRoundDone
	StageClassDone
)

// Progress is emitted while prototypes are being built.
type Progress struct {
	Stage      Stage
	Class      string
	ClassIndex int
	ClassCount int
	Round      int
	Rounds     int
}

// ProgressFunc receives build progress. It may be called from several goroutines
// when classes are built concurrently.
type ProgressFunc func(Progress)
