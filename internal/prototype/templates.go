package prototype

import "strings"

// Placeholder is the substitution point in a template.
const Placeholder = "{class}"

// CaptionTemplate is the canonical caption embedded for every class.
const CaptionTemplate = "A photo of " + Placeholder

// DefaultTemplates is the description prompt set shared by every class and dataset.
var DefaultTemplates = []string{
	"Describe what a " + Placeholder + " looks like.",
	"How can you identify a " + Placeholder + " in a photo?",
	"What does a typical " + Placeholder + " object look like in a picture?",
	"Describe the visual characteristics of " + Placeholder + " items.",
	"Give a short caption for a photo showing " + Placeholder + ".",
}

// Format substitutes class into template.
func Format(template, class string) string {
	return strings.ReplaceAll(template, Placeholder, class)
}
