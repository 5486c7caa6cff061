package osadapt

import (
	"crypto/rand"
	"io"

	"moshvm/internal/logging"
)

// randomReader implements Reader over an io.Reader source of randomness,
// always read-ready. NewURandomFactory wires it as the "/dev/urandom"
// named-factory product; NewFixedRandomFactory swaps in a
// NewDeterministicRandom source for reproducible test vectors instead of
// crypto/rand, since determinism here is a test concern rather than a
// runtime one.
type randomReader struct {
	target *Target
	source io.Reader
}

func newRandomReader(sel *Selector, id int, source io.Reader) *randomReader {
	r := &randomReader{target: sel.NewTarget(id), source: source}
	r.target.UpdateRead(true)
	return r
}

func (r *randomReader) Target() *Target { return r.target }

func (r *randomReader) Close() error {
	r.target.Close()
	return nil
}

func (r *randomReader) Receive(buf []byte, flags int) (int, error) {
	n, err := r.source.Read(buf)
	if err != nil {
		return n, EIO
	}
	return n, nil
}

// NewURandomFactory returns the NamedFactory for "/dev/urandom", backed by
// crypto/rand.
func NewURandomFactory() NamedFactory {
	return func(logger logging.Logger, sel *Selector, id int) (Endpoint, error) {
		return newRandomReader(sel, id, rand.Reader), nil
	}
}

// NewFixedRandomFactory returns a NamedFactory over a deterministic byte
// source, for reproducible tests only.
func NewFixedRandomFactory(source io.Reader) NamedFactory {
	return func(logger logging.Logger, sel *Selector, id int) (Endpoint, error) {
		return newRandomReader(sel, id, source), nil
	}
}
