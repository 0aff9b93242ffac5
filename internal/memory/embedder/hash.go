package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic feature-hashing embedder. Texts that share words
// land close together, which is enough for local development and tests
// without an embedding API.
type Hash struct {
	dimensions int
}

// NewHash returns a hash embedder producing vectors of the given size.
func NewHash(dimensions int) *Hash {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &Hash{dimensions: dimensions}
}

// Dimensions returns the embedding size.
func (h *Hash) Dimensions() int { return h.dimensions }

// Embed implements core.Embedder. The model argument is ignored.
func (h *Hash) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i, text := range input {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *Hash) embedOne(text string) []float32 {
	vec := make([]float32, h.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dimensions))
		if sum>>63 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return normalize(vec)
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
