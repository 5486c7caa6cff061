package osadapt

import "io"

// Endpoint is the polymorphic resource behind a descriptor. Every concrete
// endpoint type implements a subset of the capability interfaces below,
// dispatched by the syscall façade via type assertion (the "sum type"
// design note: {StreamSocket, DatagramSocket, NamedLocalStream,
// StdinReader, StdoutWriter, StderrWriter, SignalSource, RandomReader}).
type Endpoint interface {
	io.Closer

	// Target returns the readiness handle registered for this endpoint.
	Target() *Target
}

// Reader is an Endpoint capable of read(2)-like semantics.
type Reader interface {
	Endpoint
	Receive(buf []byte, flags int) (int, error)
}

// Writer is an Endpoint capable of write(2)-like semantics.
type Writer interface {
	Endpoint
	Send(buf []byte, flags int) (int, error)
}

// Stream is a full-duplex, connection-oriented Endpoint (TCP or named
// local stream).
type Stream interface {
	Reader
	Writer
	Connect(addr Sockaddr) error
	Bind(addr Sockaddr) error
	// LastError returns the stored connection errno for SO_ERROR polling
	// on a non-blocking connect, or nil if none is pending.
	LastError() error
}

// PacketEndpoint is a connectionless, message-oriented Endpoint (UDP).
type PacketEndpoint interface {
	Reader
	Writer
	Bind(addr Sockaddr) error
	// SendTo transmits one datagram to addr, auto-binding first if needed.
	SendTo(buf []byte, flags int, addr Sockaddr) (int, error)
	// ReceiveFrom pops one queued packet, reporting its source address.
	ReceiveFrom(buf []byte, flags int) (int, Sockaddr, error)
}

// Signal is the single pseudo-endpoint that select()/poll() always include
// so that an application thread parked in the façade can be woken by the
// main/embedder thread delivering a keyboard or window-change event.
type Signal interface {
	Endpoint
	Raise()
}

// BlockingMode controls whether façade operations park the caller on the
// Selector (true, the default) or return EWOULDBLOCK immediately (false).
type BlockingMode struct {
	blocking bool
}

// NewBlockingMode returns a BlockingMode defaulting to blocking, per the
// Endpoint invariant in the data model.
func NewBlockingMode() *BlockingMode {
	return &BlockingMode{blocking: true}
}

func (b *BlockingMode) IsBlocking() bool { return b.blocking }
func (b *BlockingMode) SetBlocking(v bool) { b.blocking = v }
