package osadapt

import "sync"

// withLock runs fn with mu held, releasing it on every exit path including
// a panic unwind -- the scoped-lock idiom used throughout this package.
// Go's defer already gives RAII-style release; this helper just names the
// pattern so call sites read the same way across the adaptation layer.
func withLock(mu *sync.Mutex, fn func()) {
	mu.Lock()
	defer mu.Unlock()
	fn()
}
