package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// StaticProvider derives embeddings deterministically from a hash of the
// text. Vectors carry no semantic signal, but identical texts always map to
// identical vectors, which is what offline runs and tests need: the whole
// pipeline stays exercisable without an API key, and clustering output is
// reproducible run to run.
type StaticProvider struct {
	dims int
}

// NewStaticProvider creates a deterministic provider with the given
// dimensionality.
func NewStaticProvider(dims int) *StaticProvider {
	return &StaticProvider{dims: dims}
}

// Embed hashes the text into a unit-norm vector.
func (p *StaticProvider) Embed(_ context.Context, text string) ([]float64, error) {
	v := make([]float64, p.dims)
	sum := sha256.Sum256([]byte(text))
	seed := sum[:]

	var norm float64
	for i := 0; i < p.dims; i++ {
		// Stretch the digest by rehashing with the index mixed in.
		if i > 0 && i%4 == 0 {
			next := sha256.Sum256(append(seed, byte(i)))
			seed = next[:]
		}
		bits := binary.BigEndian.Uint64(seed[(i%4)*8 : (i%4)*8+8])
		x := float64(int64(bits)) / math.MaxInt64
		v[i] = x
		norm += x * x
	}

	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v, nil
}

// Dimensions reports the configured vector length.
func (p *StaticProvider) Dimensions() int {
	return p.dims
}
