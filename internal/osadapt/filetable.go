package osadapt

import (
	"sync"
	"time"

	"moshvm/internal/logging"
)

// Domain/type/protocol constants recognized by socket(2), scoped to the
// families named in spec §1: IPv4/IPv6 datagram, IPv4/IPv6 stream, and one
// named local stream socket.
const (
	AFInetDomain  = int(AFInet)
	AFInet6Domain = int(AFInet6)
	AFUnixDomain  = -1

	SockDgram  = 1
	SockStream = 2
)

// NamedFactory creates a path-addressed endpoint, used for the single
// synthetic file "/dev/urandom" (§4.C open()).
type NamedFactory func(logger logging.Logger, sel *Selector, id int) (Endpoint, error)

// LocalStreamFactory creates a named local stream socket's transport, used
// by connect(fd, "agent") and any other registered local-stream name.
type LocalStreamFactory func(logger logging.Logger, sel *Selector, id int) (Stream, error)

// StreamDialer / DatagramOpener are satisfied by the native transport
// adapters of §4.F; the FileTable is transport-agnostic and only needs
// these two construction entry points.
type StreamDialer interface {
	NewStream(logger logging.Logger, sel *Selector, id int, family Family) (Stream, error)
}

type DatagramOpener interface {
	NewDatagram(logger logging.Logger, sel *Selector, id int, family Family) (PacketEndpoint, error)
}

// FileTable owns the descriptor table and the Selector, plus the two
// factory registries of §4.C.
type FileTable struct {
	logger logging.Logger
	sel    *Selector

	transport StreamDialer
	datagram  DatagramOpener

	namedFactories map[string]NamedFactory
	localStreams   map[string]LocalStreamFactory

	mu  sync.Mutex
	fds map[int]Endpoint
}

// NewFileTable constructs an empty FileTable. stdin/stdout/stderr must be
// installed by the caller immediately afterward via InstallStdEndpoints so
// that descriptors 0/1/2 are reserved, per the Descriptor Table invariant.
func NewFileTable(logger logging.Logger, transport StreamDialer, datagram DatagramOpener) *FileTable {
	return &FileTable{
		logger:         logger,
		sel:            NewSelector(logging.ForComponent(logger, "selector")),
		transport:      transport,
		datagram:       datagram,
		namedFactories: make(map[string]NamedFactory),
		localStreams:   make(map[string]LocalStreamFactory),
		fds:            make(map[int]Endpoint),
	}
}

// Selector exposes the underlying Selector, e.g. so the client instance
// can register the keyboard/window-change/signal endpoints directly.
func (ft *FileTable) Selector() *Selector { return ft.sel }

// RegisterNamedFactory installs a factory for open(path).
func (ft *FileTable) RegisterNamedFactory(path string, f NamedFactory) {
	ft.mu.Lock()
	ft.namedFactories[path] = f
	ft.mu.Unlock()
}

// RegisterLocalStreamFactory installs a factory for connect(fd, name) on
// an AF_UNIX/SOCK_STREAM descriptor.
func (ft *FileTable) RegisterLocalStreamFactory(name string, f LocalStreamFactory) {
	ft.mu.Lock()
	ft.localStreams[name] = f
	ft.mu.Unlock()
}

// InstallStdEndpoints installs already-constructed endpoints at descriptors
// 0, 1 and 2, per the reserved-descriptor invariant.
func (ft *FileTable) InstallStdEndpoints(stdin, stdout, stderr Endpoint) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.fds[0] = stdin
	ft.fds[1] = stdout
	ft.fds[2] = stderr
}

// lowestFree returns the least non-negative integer not present in fds.
// Must be called with ft.mu held.
func (ft *FileTable) lowestFree() int {
	for i := 0; ; i++ {
		if _, used := ft.fds[i]; !used {
			return i
		}
	}
}

func (ft *FileTable) lookup(fd int) (Endpoint, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ep, ok := ft.fds[fd]
	if !ok {
		return nil, EBADF
	}
	return ep, nil
}

func (ft *FileTable) install(ep Endpoint) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	fd := ft.lowestFree()
	ft.fds[fd] = ep
	return fd
}

// Open implements open(path): if a named factory matches, installs its
// product under the lowest-free descriptor; otherwise fails with EACCES.
func (ft *FileTable) Open(path string) (int, error) {
	ft.mu.Lock()
	factory, ok := ft.namedFactories[path]
	ft.mu.Unlock()
	if !ok {
		return -1, EACCES
	}
	fd := ft.reserveFD()
	ep, err := factory(logging.ForComponent(ft.logger, "open"), ft.sel, fd)
	if err != nil {
		ft.releaseFD(fd)
		return -1, err
	}
	ft.mu.Lock()
	ft.fds[fd] = ep
	ft.mu.Unlock()
	return fd, nil
}

// reserveFD allocates the lowest-free descriptor without yet installing an
// endpoint, so the endpoint constructor can be given its final id before
// the table becomes visible to other operations.
func (ft *FileTable) reserveFD() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	fd := ft.lowestFree()
	ft.fds[fd] = nil
	return fd
}

func (ft *FileTable) releaseFD(fd int) {
	ft.mu.Lock()
	delete(ft.fds, fd)
	ft.mu.Unlock()
}

// Close implements close(fd): drops the endpoint, freeing the descriptor.
func (ft *FileTable) Close(fd int) error {
	ft.mu.Lock()
	ep, ok := ft.fds[fd]
	delete(ft.fds, fd)
	ft.mu.Unlock()
	if !ok {
		return EBADF
	}
	if ep == nil {
		return nil
	}
	return ep.Close()
}

// Socket implements socket(domain, type, protocol), recognizing
// AF_INET/AF_INET6 x (SOCK_DGRAM proto 0/UDP, or SOCK_STREAM proto 0/TCP)
// and AF_UNIX x SOCK_STREAM proto 0 dispatched to the named-local factory
// registry (actual dispatch happens on connect, per §4.C).
func (ft *FileTable) Socket(domain, typ, protocol int) (int, error) {
	fd := ft.reserveFD()
	logger := logging.ForComponent(ft.logger, "socket")

	var ep Endpoint
	var err error
	switch {
	case (domain == AFInetDomain || domain == AFInet6Domain) && typ == SockDgram && (protocol == 0 || protocol == 17): // 17 = IPPROTO_UDP
		family := Family(AFInet)
		if domain == AFInet6Domain {
			family = AFInet6
		}
		ep, err = ft.datagram.NewDatagram(logger, ft.sel, fd, family)
	case (domain == AFInetDomain || domain == AFInet6Domain) && typ == SockStream && (protocol == 0 || protocol == 6): // 6 = IPPROTO_TCP
		family := Family(AFInet)
		if domain == AFInet6Domain {
			family = AFInet6
		}
		ep, err = ft.transport.NewStream(logger, ft.sel, fd, family)
	case domain == AFUnixDomain && typ == SockStream && protocol == 0:
		ep = newUnresolvedLocalStream(logger, ft.sel, fd, ft)
	default:
		ft.releaseFD(fd)
		return -1, EINVAL
	}
	if err != nil {
		ft.releaseFD(fd)
		return -1, err
	}
	ft.mu.Lock()
	ft.fds[fd] = ep
	ft.mu.Unlock()
	return fd, nil
}

// Dup implements dup(fd): only datagram endpoints are duplicable, and the
// result is always a fresh IPv4 datagram endpoint (mirrors upstream Mosh
// obtaining a second UDP socket).
func (ft *FileTable) Dup(fd int) (int, error) {
	ep, err := ft.lookup(fd)
	if err != nil {
		return -1, err
	}
	if _, ok := ep.(PacketEndpoint); !ok {
		return -1, EINVAL
	}
	return ft.Socket(AFInetDomain, SockDgram, 0)
}

// Connect implements connect(fd, addr): for a stream endpoint it initiates
// connection to a parsed IPv4/IPv6 address; any other endpoint, including
// an unresolved local stream (which ConnectLocal resolves by name), fails
// with ENOTCONN.
func (ft *FileTable) Connect(fd int, addr Sockaddr) error {
	ep, err := ft.lookup(fd)
	if err != nil {
		return err
	}
	s, ok := ep.(Stream)
	if !ok {
		return ENOTCONN
	}
	return s.Connect(addr)
}

// ConnectLocal implements connect(fd, path) for the one named local stream
// socket family ("agent" is the only name the upstream client recognizes).
// Always succeeds if the name is recognized -- the underlying transport is
// presumed already up in the embedder.
func (ft *FileTable) ConnectLocal(fd int, name string) error {
	ep, err := ft.lookup(fd)
	if err != nil {
		return err
	}
	uls, ok := ep.(*unresolvedLocalStream)
	if !ok {
		return ENOTCONN
	}
	factory, ok := ft.localStreams[name]
	if !ok {
		return EACCES
	}
	resolved, err := factory(uls.logger, ft.sel, fd)
	if err != nil {
		return err
	}
	ft.mu.Lock()
	ft.fds[fd] = resolved
	ft.mu.Unlock()
	uls.target.Close()
	return nil
}

// Read/Write dispatch by endpoint capability; if the endpoint is in
// blocking mode, park on the Selector on a single-element read/write set,
// then re-invoke the endpoint's non-blocking primitive.
func (ft *FileTable) Read(fd int, buf []byte) (int, error) {
	ep, err := ft.lookup(fd)
	if err != nil {
		return 0, err
	}
	r, ok := ep.(Reader)
	if !ok {
		return 0, EINVAL
	}
	return ft.blockingOp(ep, r.Target(), true, func() (int, error) {
		return r.Receive(buf, 0)
	})
}

func (ft *FileTable) Write(fd int, buf []byte) (int, error) {
	ep, err := ft.lookup(fd)
	if err != nil {
		return 0, err
	}
	w, ok := ep.(Writer)
	if !ok {
		return 0, EINVAL
	}
	return ft.blockingOp(ep, w.Target(), false, func() (int, error) {
		return w.Send(buf, 0)
	})
}

// blockingModeOf returns ep's blocking-mode flag. Endpoints
// that don't track their own mode (e.g. the unresolved local stream
// placeholder) are treated as blocking by default.
func blockingModeOf(ep Endpoint) *BlockingMode {
	if bm, ok := ep.(interface{ Blocking() *BlockingMode }); ok {
		return bm.Blocking()
	}
	return NewBlockingMode()
}

// blockingOp parks the caller on the Selector when the endpoint is in
// blocking mode and op first returns EWOULDBLOCK, then retries op once
// readiness is reported.
func (ft *FileTable) blockingOp(ep Endpoint, target *Target, forRead bool, op func() (int, error)) (int, error) {
	for {
		n, err := op()
		if err != EWOULDBLOCK {
			return n, err
		}
		bm := blockingModeOf(ep)
		if !bm.IsBlocking() {
			return n, err
		}
		if forRead {
			ft.sel.Select([]*Target{target}, nil, nil)
		} else {
			ft.sel.Select(nil, []*Target{target}, nil)
		}
	}
}

// Recv / Send / SendTo / RecvMsg implement §4.C's blocking path (parks on
// the Selector unless MSG_DONTWAIT) and flag semantics (MSG_PEEK copies
// without consuming on a stream; an empty iovec set on recvmsg yields
// EWOULDBLOCK if the queue is empty).
func (ft *FileTable) Recv(fd int, buf []byte, flags int) (int, error) {
	ep, err := ft.lookup(fd)
	if err != nil {
		return 0, err
	}
	r, ok := ep.(Reader)
	if !ok {
		return 0, EINVAL
	}
	if flags&MsgDontWait != 0 {
		return r.Receive(buf, flags)
	}
	return ft.blockingOp(ep, r.Target(), true, func() (int, error) {
		return r.Receive(buf, flags)
	})
}

func (ft *FileTable) Send(fd int, buf []byte, flags int) (int, error) {
	ep, err := ft.lookup(fd)
	if err != nil {
		return 0, err
	}
	w, ok := ep.(Writer)
	if !ok {
		return 0, EINVAL
	}
	if flags&MsgDontWait != 0 {
		return w.Send(buf, flags)
	}
	return ft.blockingOp(ep, w.Target(), false, func() (int, error) {
		return w.Send(buf, flags)
	})
}

func (ft *FileTable) SendTo(fd int, buf []byte, flags int, addr Sockaddr) (int, error) {
	ep, err := ft.lookup(fd)
	if err != nil {
		return 0, err
	}
	d, ok := ep.(PacketEndpoint)
	if !ok {
		return 0, EINVAL
	}
	if flags&MsgDontWait != 0 {
		return d.SendTo(buf, flags, addr)
	}
	return ft.blockingOp(ep, d.Target(), false, func() (int, error) {
		return d.SendTo(buf, flags, addr)
	})
}

// RecvMsg copies one packet into buf, reporting its source address. An
// empty buf on a datagram endpoint with an empty queue yields EWOULDBLOCK.
func (ft *FileTable) RecvMsg(fd int, buf []byte, flags int) (int, Sockaddr, error) {
	ep, err := ft.lookup(fd)
	if err != nil {
		return 0, Sockaddr{}, err
	}
	d, ok := ep.(PacketEndpoint)
	if !ok {
		return 0, Sockaddr{}, EINVAL
	}

	var from Sockaddr
	op := func() (int, error) {
		n, src, e := d.ReceiveFrom(buf, flags)
		from = src
		return n, e
	}

	var n int
	if flags&MsgDontWait != 0 {
		n, err = op()
	} else {
		n, err = ft.blockingOp(ep, d.Target(), true, op)
	}
	if err != nil {
		return 0, Sockaddr{}, err
	}
	return n, from, nil
}

// PollEvent mirrors the bit tests the façade needs from select()/poll():
// which direction(s) a caller is asking about for one descriptor.
type PollEvent struct {
	FD    int
	Read  bool
	Write bool
}

// Select builds target sets from the caller's descriptor lists (plus the
// signal pseudo-endpoint, included unconditionally), delegates to the
// Selector, and reports which requested descriptors are ready.
func (ft *FileTable) Select(events []PollEvent, signal *Target, timeout *time.Duration) (map[int]PollEvent, error) {
	var readSet, writeSet []*Target
	byID := make(map[int]*Target)
	for _, ev := range events {
		ep, err := ft.lookup(ev.FD)
		if err != nil {
			return nil, err
		}
		t := ep.Target()
		byID[ev.FD] = t
		if ev.Read {
			readSet = append(readSet, t)
		}
		if ev.Write {
			writeSet = append(writeSet, t)
		}
	}
	if signal != nil {
		readSet = append(readSet, signal)
	}

	ready := ft.sel.Select(readSet, writeSet, timeout)
	readyByTarget := make(map[*Target]bool, len(ready))
	for _, t := range ready {
		readyByTarget[t] = true
	}

	out := make(map[int]PollEvent)
	for fd, t := range byID {
		if !readyByTarget[t] {
			continue
		}
		out[fd] = PollEvent{FD: fd, Read: t.HasReadData(), Write: t.HasWriteData()}
	}
	return out, nil
}

// Fcntl implements F_SETFL/O_NONBLOCK (toggles blocking mode; any other
// bit is logged and ignored), F_SETFD/FD_CLOEXEC (no-op, no fork support),
// and fails any other command with EINVAL.
const (
	FSetFL = 1
	FSetFD = 2

	ONonblock = 1 << 0
	FDCloexec = 1 << 0
)

func (ft *FileTable) Fcntl(fd int, cmd int, arg int) error {
	ep, err := ft.lookup(fd)
	if err != nil {
		return err
	}
	switch cmd {
	case FSetFL:
		bm, ok := ep.(interface{ Blocking() *BlockingMode })
		if !ok {
			return EINVAL
		}
		bm.Blocking().SetBlocking(arg&ONonblock == 0)
		if arg &^ ONonblock != 0 {
			ft.logger.WLogf("fcntl F_SETFL: ignoring unsupported bits in 0x%x", arg)
		}
		return nil
	case FSetFD:
		return nil
	default:
		return EINVAL
	}
}

// GetSockoptSOError implements getsockopt(fd, SOL_SOCKET, SO_ERROR),
// returning the stream endpoint's stored connection errno so a
// non-blocking connect's completion can be polled.
func (ft *FileTable) GetSockoptSOError(fd int) error {
	ep, err := ft.lookup(fd)
	if err != nil {
		return err
	}
	s, ok := ep.(Stream)
	if !ok {
		return EINVAL
	}
	return s.LastError()
}
