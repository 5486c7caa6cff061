package osadapt

import "moshvm/internal/logging"

// unresolvedLocalStream is the placeholder installed by socket(AF_UNIX,
// SOCK_STREAM, 0) before connect(fd, name) resolves it against the
// FileTable's named local-stream registry. It carries no read/write
// readiness of its own -- Target exists only so it occupies a descriptor
// and can be closed cleanly if never connected.
type unresolvedLocalStream struct {
	logger logging.Logger
	target *Target
	ft     *FileTable
}

func newUnresolvedLocalStream(logger logging.Logger, sel *Selector, id int, ft *FileTable) *unresolvedLocalStream {
	return &unresolvedLocalStream{
		logger: logger,
		target: sel.NewTarget(id),
		ft:     ft,
	}
}

func (u *unresolvedLocalStream) Target() *Target { return u.target }

func (u *unresolvedLocalStream) Close() error {
	u.target.Close()
	return nil
}
