package hostruntime

import (
	"moshvm/internal/logging"
	"moshvm/internal/osadapt"
)

// Factory adapts a Runtime into osadapt.StreamDialer and
// osadapt.DatagramOpener, so internal/osadapt.FileTable can create
// endpoints without knowing which concrete host runtime backs them.
type Factory struct {
	rt Runtime
}

func NewFactory(rt Runtime) *Factory {
	return &Factory{rt: rt}
}

// NewStream implements osadapt.StreamDialer.
func (f *Factory) NewStream(logger logging.Logger, sel *osadapt.Selector, id int, family osadapt.Family) (osadapt.Stream, error) {
	sock, err := f.rt.OpenTCP()
	if err != nil {
		return nil, MapError(err)
	}
	adapter := &streamAdapter{logger: logger, rt: f.rt, sock: sock}
	ep := osadapt.NewStreamEndpoint(logger, sel, id, adapter)
	adapter.sink = ep
	return ep, nil
}

// NewDatagram implements osadapt.DatagramOpener.
func (f *Factory) NewDatagram(logger logging.Logger, sel *osadapt.Selector, id int, family osadapt.Family) (osadapt.PacketEndpoint, error) {
	sock, err := f.rt.OpenUDP()
	if err != nil {
		return nil, MapError(err)
	}
	adapter := &datagramAdapter{logger: logger, rt: f.rt, sock: sock}
	ep := osadapt.NewDatagramEndpoint(logger, sel, id, adapter, family)
	adapter.sink = ep
	return ep, nil
}

// streamAdapter implements osadapt.StreamSender over a Runtime TCPSocket,
// per §4.F: connect always answers EINPROGRESS having posted the real
// connect to the main thread; completion marks write-ready or stores a
// connection errno for a later SO_ERROR query.
type streamAdapter struct {
	logger  logging.Logger
	rt      Runtime
	sock    TCPSocket
	sink    StreamSink
	started bool
}

func (a *streamAdapter) ConnectNonBlocking(addr osadapt.Sockaddr) error {
	a.rt.PostMainThread(func() {
		a.sock.Connect(addr, func(err error) {
			if err != nil {
				a.sink.SetConnError(MapError(err))
				return
			}
			a.sink.MarkWriteReady()
			if !a.started {
				a.started = true
				a.sock.StartReceive(a.sink.AddData, func(recvErr error) {
					a.sink.SetConnError(MapError(recvErr))
				})
			}
		})
	})
	return osadapt.EINPROGRESS
}

// SendNonBlocking hands buf to the host stack's async send and reports it
// fully accepted; a later failure surfaces through SetConnError like any
// other asynchronous transport error, matching the host API's own
// fire-and-forget send primitive.
func (a *streamAdapter) SendNonBlocking(buf []byte) (int, error) {
	n := len(buf)
	cp := make([]byte, n)
	copy(cp, buf)
	a.rt.PostMainThread(func() {
		a.sock.Send(cp, func(err error) {
			if err != nil {
				a.sink.SetConnError(MapError(err))
			}
		})
	})
	return n, nil
}

// Bind is not meaningful for an outbound stream socket in this adaptation
// layer -- upstream Mosh only ever connects out over TCP.
func (a *streamAdapter) Bind(addr osadapt.Sockaddr) error {
	return osadapt.EINVAL
}

func (a *streamAdapter) Close() error {
	return a.sock.Close()
}

// datagramAdapter implements osadapt.DatagramSender over a Runtime
// UDPSocket. Bind is presented synchronously to match
// osadapt.DatagramEndpoint's contract even though the underlying call is
// async on the host stack: it blocks on a completion channel bridging the
// two.
type datagramAdapter struct {
	logger  logging.Logger
	rt      Runtime
	sock    UDPSocket
	sink    DatagramSink
	started bool
}

func (a *datagramAdapter) Bind(addr osadapt.Sockaddr) error {
	done := make(chan error, 1)
	a.rt.PostMainThread(func() {
		a.sock.Bind(addr, func(err error) {
			done <- err
		})
	})
	if err := <-done; err != nil {
		return MapError(err)
	}
	if !a.started {
		a.started = true
		a.sock.StartReceive(a.sink.AddPacket, func(err error) {
			a.logger.WLogf("datagram receive loop ended: %s", MapError(err))
		})
	}
	return nil
}

func (a *datagramAdapter) SendTo(buf []byte, addr osadapt.Sockaddr) (int, error) {
	n := len(buf)
	cp := make([]byte, n)
	copy(cp, buf)
	a.rt.PostMainThread(func() {
		a.sock.SendTo(cp, addr, func(err error) {
			if err != nil {
				a.logger.WLogf("sendto %s failed: %s", addr, MapError(err))
			}
		})
	})
	return n, nil
}

func (a *datagramAdapter) Close() error {
	return a.sock.Close()
}
