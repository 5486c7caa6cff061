package osadapt

import (
	"moshvm/internal/logging"
)

// MSG flags recognized by receive/send, mirroring the subset the façade
// contract in §4.C/§4.D needs.
const (
	MsgPeek = 1 << iota
	MsgDontWait
)

// StreamSender is implemented by the concrete transport (native adapter or
// test double) backing a StreamEndpoint: it performs the actual non-
// blocking send, connect and bind.
type StreamSender interface {
	// SendNonBlocking attempts to send buf without blocking. Returns
	// EWOULDBLOCK if the transport's outgoing buffer is full.
	SendNonBlocking(buf []byte) (int, error)
	ConnectNonBlocking(addr Sockaddr) error
	Bind(addr Sockaddr) error
	Close() error
}

// StreamEndpoint is the abstract stream Endpoint of §4.D: a buffered
// receive queue filled by async callbacks, and a synchronous-looking send
// that forwards directly to the transport. A freshly created StreamEndpoint
// is not write-ready until its transport signals open success.
type StreamEndpoint struct {
	logger    logging.Logger
	target    *Target
	transport StreamSender
	buf       streamBuffer
	blocking  *BlockingMode
	lastErr   error
}

// NewStreamEndpoint wraps transport in a StreamEndpoint registered with sel
// under descriptor id.
func NewStreamEndpoint(logger logging.Logger, sel *Selector, id int, transport StreamSender) *StreamEndpoint {
	target := sel.NewTarget(id)
	return &StreamEndpoint{
		logger:    logger,
		target:    target,
		transport: transport,
		buf:       streamBuffer{target: target},
		blocking:  NewBlockingMode(),
	}
}

func (e *StreamEndpoint) Target() *Target { return e.target }

// Blocking exposes the endpoint's BlockingMode to the syscall façade.
func (e *StreamEndpoint) Blocking() *BlockingMode { return e.blocking }

func (e *StreamEndpoint) Close() error {
	e.target.Close()
	return e.transport.Close()
}

// AddData is the producer-side entry point, called by the native transport
// adapter's receive-completion callback. Safe to call from a goroutine
// distinct from the consumer; raises the read-ready edge atomically with
// the append (see streamBuffer.Add).
func (e *StreamEndpoint) AddData(p []byte) {
	e.buf.Add(p)
}

// SetConnError stores a sticky connection error reported asynchronously by
// the transport (e.g. a failed non-blocking connect, or a reset seen while
// idle), surfaced to the next Receive as ECONNABORTED and to a getsockopt
// SO_ERROR query via LastError.
func (e *StreamEndpoint) SetConnError(err error) {
	e.lastErr = err
	e.buf.SetError(ECONNABORTED)
}

// LastError returns the stored connection errno, or nil.
func (e *StreamEndpoint) LastError() error {
	return e.lastErr
}

// MarkWriteReady raises the write-ready edge once the transport reports
// open/connect success.
func (e *StreamEndpoint) MarkWriteReady() {
	e.target.UpdateWrite(true)
}

func (e *StreamEndpoint) Connect(addr Sockaddr) error {
	return e.transport.ConnectNonBlocking(addr)
}

func (e *StreamEndpoint) Bind(addr Sockaddr) error {
	return e.transport.Bind(addr)
}

// Receive implements the §4.D contract: prior async failure surfaces as
// ECONNABORTED, MSG_PEEK extracts without consuming, an empty buffer
// (nothing queued) yields EWOULDBLOCK (the blocking wait, if any, already
// happened in the façade), and readiness is re-evaluated after any
// non-peek consumption under the buffer's own mutex (streamBuffer.Take) so
// no reader can fall asleep on an empty queue that still has unread bytes.
func (e *StreamEndpoint) Receive(p []byte, flags int) (int, error) {
	peek := flags&MsgPeek != 0

	n, err := e.buf.Take(p, peek)
	if n == 0 && err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, EWOULDBLOCK
	}
	return n, nil
}

func (e *StreamEndpoint) Send(p []byte, flags int) (int, error) {
	return e.transport.SendNonBlocking(p)
}
