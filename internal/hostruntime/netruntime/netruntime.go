// Package netruntime is a hostruntime.Runtime backed by real net.Dial and
// net.ListenPacket calls, used for native execution and integration
// tests. It simulates the single-main-thread posting discipline a browser
// plugin host would impose with an internal serial task queue, so the same
// adapter code exercised here also exercises the ordering guarantees the
// production wsruntime.Runtime depends on.
package netruntime

import (
	"net"

	"moshvm/internal/hostruntime"
	"moshvm/internal/osadapt"
)

// Runtime is a hostruntime.Runtime over the standard library's net
// package.
type Runtime struct {
	tasks chan func()
	done  chan struct{}
}

// New starts the serial task queue and returns a ready Runtime. Close
// stops the queue.
func New() *Runtime {
	rt := &Runtime{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go rt.run()
	return rt
}

func (rt *Runtime) run() {
	for {
		select {
		case task := <-rt.tasks:
			task()
		case <-rt.done:
			return
		}
	}
}

// Close stops the task queue. Pending tasks are dropped.
func (rt *Runtime) Close() {
	close(rt.done)
}

func (rt *Runtime) PostMainThread(task func()) {
	select {
	case rt.tasks <- task:
	case <-rt.done:
	}
}

func (rt *Runtime) OpenTCP() (hostruntime.TCPSocket, error) {
	return &tcpSocket{}, nil
}

func (rt *Runtime) OpenUDP() (hostruntime.UDPSocket, error) {
	return &udpSocket{}, nil
}

type tcpSocket struct {
	conn net.Conn
}

func (s *tcpSocket) Connect(addr osadapt.Sockaddr, onDone func(error)) {
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		onDone(err)
		return
	}
	s.conn = conn
	onDone(nil)
}

func (s *tcpSocket) Send(buf []byte, onDone func(error)) {
	if s.conn == nil {
		onDone(net.ErrClosed)
		return
	}
	_, err := s.conn.Write(buf)
	onDone(err)
}

func (s *tcpSocket) StartReceive(onData func([]byte), onError func(error)) {
	go func() {
		buf := make([]byte, hostruntime.StreamRecvBufferSize)
		for {
			n, err := s.conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				onData(chunk)
			}
			if err != nil {
				onError(err)
				return
			}
		}
	}()
}

func (s *tcpSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

type udpSocket struct {
	conn net.PacketConn
}

func (s *udpSocket) Bind(addr osadapt.Sockaddr, onDone func(error)) {
	conn, err := net.ListenPacket("udp", addr.String())
	if err != nil {
		onDone(err)
		return
	}
	s.conn = conn
	onDone(nil)
}

func (s *udpSocket) SendTo(buf []byte, addr osadapt.Sockaddr, onDone func(error)) {
	if s.conn == nil {
		onDone(net.ErrClosed)
		return
	}
	_, err := s.conn.WriteTo(buf, addr.ToUDPAddr())
	onDone(err)
}

func (s *udpSocket) StartReceive(onPacket func(from osadapt.Sockaddr, payload []byte), onError func(error)) {
	go func() {
		buf := make([]byte, hostruntime.DatagramRecvBufferSize)
		for {
			n, from, err := s.conn.ReadFrom(buf)
			if n > 0 {
				payload := make([]byte, n)
				copy(payload, buf[:n])
				if udpAddr, ok := from.(*net.UDPAddr); ok {
					sockaddr, parseErr := osadapt.ParseSockaddr(udpAddr.String())
					if parseErr == nil {
						onPacket(sockaddr, payload)
					}
				}
			}
			if err != nil {
				onError(err)
				return
			}
		}
	}()
}

func (s *udpSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
