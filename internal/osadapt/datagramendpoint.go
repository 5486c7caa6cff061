package osadapt

import (
	"sync"

	"moshvm/internal/logging"
)

// packet is one queued datagram: a source address and owned payload bytes,
// destroyed together when popped.
type packet struct {
	from    Sockaddr
	payload []byte
}

// datagramQueue is a FIFO of packet records with the same producer
// (async-completion)/consumer (worker thread) discipline as streamBuffer:
// target's read-readiness edge is raised/lowered from inside the same
// critical section that mutates items, so a concurrent push/pop pair can
// never leave the edge disagreeing with what's actually queued.
type datagramQueue struct {
	mu     sync.Mutex
	items  []packet
	target *Target
}

func (q *datagramQueue) push(p packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.target.UpdateRead(len(q.items) > 0)
	q.mu.Unlock()
}

func (q *datagramQueue) pop() (packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return packet{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	q.target.UpdateRead(len(q.items) > 0)
	return p, true
}

// DatagramSender is implemented by the concrete transport backing a
// DatagramEndpoint.
type DatagramSender interface {
	Bind(addr Sockaddr) error
	SendTo(buf []byte, addr Sockaddr) (int, error)
	Close() error
}

// DatagramEndpoint implements §4.E: a packetized receive queue with
// per-packet source address and lazy auto-bind. A freshly created
// DatagramEndpoint is write-ready immediately (no connection handshake to
// wait for).
type DatagramEndpoint struct {
	logger    logging.Logger
	target    *Target
	transport DatagramSender
	queue     datagramQueue

	blocking *BlockingMode

	mu     sync.Mutex
	bound  bool
	family Family
}

// NewDatagramEndpoint wraps transport in a DatagramEndpoint registered
// with sel under descriptor id, and bound to the given family for
// auto-bind purposes (the family of the socket(2) call that created it).
func NewDatagramEndpoint(logger logging.Logger, sel *Selector, id int, transport DatagramSender, family Family) *DatagramEndpoint {
	target := sel.NewTarget(id)
	e := &DatagramEndpoint{
		logger:    logger,
		target:    target,
		transport: transport,
		queue:     datagramQueue{target: target},
		family:    family,
		blocking:  NewBlockingMode(),
	}
	e.target.UpdateWrite(true)
	return e
}

func (e *DatagramEndpoint) Target() *Target { return e.target }

// Blocking exposes the endpoint's BlockingMode to the syscall façade.
func (e *DatagramEndpoint) Blocking() *BlockingMode { return e.blocking }

func (e *DatagramEndpoint) Close() error {
	e.target.Close()
	return e.transport.Close()
}

// AddPacket is the producer-side entry point, invoked from the async
// completion callback. Raises the read-ready edge atomically with the
// enqueue (see datagramQueue.push).
func (e *DatagramEndpoint) AddPacket(from Sockaddr, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	e.queue.push(packet{from: from, payload: cp})
}

func (e *DatagramEndpoint) Bind(addr Sockaddr) error {
	if err := e.transport.Bind(addr); err != nil {
		return err
	}
	e.mu.Lock()
	e.bound = true
	e.mu.Unlock()
	return nil
}

func (e *DatagramEndpoint) isBound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bound
}

// errFamilyMismatch is surfaced to the caller (not merely logged) when the
// destination family cannot be served by this socket's family -- the §9
// open-question resolution: fail the send and surface an error rather
// than silently degrade.
var errFamilyMismatch = EINVAL

// ensureAutoBind implements the auto-bind policy for send when no explicit
// bind has occurred: bind to the "any" address whose family matches the
// destination. A failed bind is logged and the caller's send returns 0;
// a family mismatch is reported to the caller as an error.
func (e *DatagramEndpoint) ensureAutoBind(dest Sockaddr) (bindFailed bool, mismatch error) {
	if e.isBound() {
		return false, nil
	}
	if dest.Family != e.family {
		return false, errFamilyMismatch
	}
	if err := e.Bind(AnyAddr(dest.Family)); err != nil {
		e.logger.WLogf("auto-bind failed: %s", err)
		return true, nil
	}
	return false, nil
}

// Send implements Writer for code paths that don't have a destination
// (e.g. after connect-less use via sendto wrapped elsewhere); callers that
// have a destination should use SendTo.
func (e *DatagramEndpoint) Send(p []byte, flags int) (int, error) {
	return 0, EINVAL
}

// SendTo transmits one datagram, auto-binding on first use per §4.E.
func (e *DatagramEndpoint) SendTo(buf []byte, flags int, addr Sockaddr) (int, error) {
	bindFailed, mismatch := e.ensureAutoBind(addr)
	if mismatch != nil {
		return 0, mismatch
	}
	if bindFailed {
		return 0, nil
	}
	return e.transport.SendTo(buf, addr)
}

// Receive pops one queued packet without reporting its source; present to
// satisfy the Reader capability. Callers that need the source address
// should use ReceiveFrom.
func (e *DatagramEndpoint) Receive(buf []byte, flags int) (int, error) {
	n, _, err := e.ReceiveFrom(buf, flags)
	return n, err
}

// ReceiveFrom pops one packet, copying its payload into buf (gathered, in
// the façade, into the caller's iovec set) and returning its source
// address. If none is queued, returns EWOULDBLOCK. Read-readiness is
// re-evaluated under the queue's own mutex as part of the pop
// (datagramQueue.pop), closing the race a separate post-pop UpdateRead
// call would otherwise allow against a concurrent AddPacket.
func (e *DatagramEndpoint) ReceiveFrom(buf []byte, flags int) (int, Sockaddr, error) {
	p, ok := e.queue.pop()
	if !ok {
		return 0, Sockaddr{}, EWOULDBLOCK
	}
	n := copy(buf, p.payload)
	if n < len(p.payload) {
		e.logger.WLogf("recvmsg: truncated datagram, %d of %d bytes delivered", n, len(p.payload))
	}
	return n, p.from, nil
}
