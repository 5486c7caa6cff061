package osadapt

// Deterministic pseudo-random byte stream for reproducible tests:
// half the SHA-512 output of the running state is returned, half reseeds
// the state for the next block.

import (
	"crypto/sha512"
	"io"
)

// determRandIter is the number of times a seed is re-hashed with SHA-512
// before producing the first output block, to mix a short seed.
const determRandIter = 2048

// NewDeterministicRandom returns an io.Reader producing a pseudo-random
// byte stream that depends only on seed, for NewFixedRandomFactory's test
// vectors.
func NewDeterministicRandom(seed []byte) io.Reader {
	next := seed
	for i := 0; i < determRandIter; i++ {
		next, _ = splitHash(next)
	}
	return &deterministicRandom{next: next}
}

type deterministicRandom struct {
	next []byte
}

func (d *deterministicRandom) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		next, out := splitHash(d.next)
		n += copy(b[n:], out)
		d.next = next
	}
	return n, nil
}

func splitHash(input []byte) (next, output []byte) {
	sum := sha512.Sum512(input)
	return sum[:sha512.Size/2], sum[sha512.Size/2:]
}
