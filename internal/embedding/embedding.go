// Package embedding defines the embedding capability consumed by the sync
// engine and search, plus the formatting contract that ties index-time and
// query-time representations together.
package embedding

import (
	"context"
	"math"
	"strings"
)

// Dimensions is the fixed vector width used by the store.
const Dimensions = 384

// Embedder computes embedding vectors for texts. Implementations must return
// one vector per input text, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// FormatForEmbedding builds the text representation of a block for the
// embedding model: page title, then ancestor path, then content, each on its
// own line. The content section is always present, even when empty. Index
// and query time must use identical formatting for scores to be comparable;
// queries carry no page or path context, only raw text.
func FormatForEmbedding(content, pageTitle string, parentChain []string) string {
	var parts []string
	if pageTitle != "" {
		parts = append(parts, "Page: "+pageTitle)
	}
	if len(parentChain) > 0 {
		parts = append(parts, "Path: "+strings.Join(parentChain, " > "))
	}
	parts = append(parts, "Content: "+content)
	return strings.Join(parts, "\n")
}

// Normalize scales a vector to unit length in place and returns it. The
// zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
