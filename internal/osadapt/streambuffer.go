package osadapt

import "sync"

// streamBuffer is a FIFO of bytes guarded by a mutex, with a sticky
// connection-error field. The producer side is the async-completion
// callback (invoked from the main/embedder thread); the consumer side is
// the one worker-thread caller of Receive. target's read-readiness edge is
// always raised/lowered from inside the same critical section that mutates
// data, so a producer and a consumer racing on Add/Take can never leave the
// edge in a state that disagrees with what's actually buffered (no reader
// can fall asleep on an empty queue that still has unread bytes).
type streamBuffer struct {
	mu     sync.Mutex
	data   []byte
	err    error
	target *Target
}

// Add appends producer-side bytes and re-evaluates read-readiness
// atomically with the append. Safe to call from a goroutine distinct from
// the consumer.
func (b *streamBuffer) Add(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.target.UpdateRead(len(b.data) > 0)
	b.mu.Unlock()
}

// SetError records a sticky connection error reported by the transport and
// raises read-readiness so the next Receive observes it.
func (b *streamBuffer) SetError(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.target.UpdateRead(true)
	b.mu.Unlock()
}

// Take copies up to len(p) bytes into p. If peek is true, the bytes are
// not removed from the buffer. Returns the sticky error only when the
// buffer is empty (buffered bytes are always delivered first). On a
// non-peek take, read-readiness is re-evaluated under the same lock that
// mutates data, closing the race a separate post-unlock UpdateRead call
// would otherwise allow against a concurrent Add.
func (b *streamBuffer) Take(p []byte, peek bool) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return 0, b.err
	}
	n = copy(p, b.data)
	if !peek {
		b.data = b.data[n:]
		b.target.UpdateRead(len(b.data) > 0)
	}
	return n, nil
}

// Len reports the number of unconsumed bytes currently buffered.
func (b *streamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
