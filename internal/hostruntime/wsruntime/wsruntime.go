// Package wsruntime is a hostruntime.Runtime for a browser-plugin-style
// host whose only outbound primitive is a single WebSocket connection to a
// relay. It mirrors the teacher's NewWebSocketConn: a *websocket.Conn is
// framed as a byte stream by concatenating successive binary messages, so
// everything above it in internal/osadapt never has to know a WebSocket is
// involved.
package wsruntime

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"moshvm/internal/hostruntime"
	"moshvm/internal/osadapt"
)

// ErrDatagramUnsupported is returned by OpenUDP: a browser plugin host
// exposing only a WebSocket to a relay has no independent datagram
// primitive to hand out. Callers needing UDP semantics over this runtime
// must multiplex it over the same WebSocket outside this package.
var ErrDatagramUnsupported = errors.New("wsruntime: datagram sockets are not supported over a single WebSocket runtime")

// Runtime wraps one already-dialed *websocket.Conn as the host's async
// socket API. Unlike netruntime, there is nothing to open per-socket: the
// single WebSocket connection to the relay is the only stream any caller
// will ever get, mirroring the real plugin host's one relay leg.
type Runtime struct {
	conn  *websocket.Conn
	tasks chan func()
	done  chan struct{}
}

// Dial opens the WebSocket to url with the given headers and subprotocols
// and returns a ready Runtime, matching the teacher's connectionLoop
// dial parameters (handshake timeout, buffer sizes).
func Dial(url string, header http.Header, subprotocols []string) (*Runtime, error) {
	d := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     subprotocols,
	}
	conn, _, err := d.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an already-established WebSocket connection.
func New(conn *websocket.Conn) *Runtime {
	rt := &Runtime{
		conn:  conn,
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

func (rt *Runtime) Close() {
	select {
	case <-rt.done:
	default:
		close(rt.done)
	}
}

func (rt *Runtime) PostMainThread(task func()) {
	select {
	case rt.tasks <- task:
	case <-rt.done:
	}
}

func (rt *Runtime) OpenTCP() (hostruntime.TCPSocket, error) {
	return &wsStream{rt: rt}, nil
}

func (rt *Runtime) OpenUDP() (hostruntime.UDPSocket, error) {
	return nil, ErrDatagramUnsupported
}

// wsStream is the single logical stream socket a WebSocket relay leg
// stands in for. Connect is a no-op success: the relay is already up by
// the time this Runtime exists.
type wsStream struct {
	rt *Runtime
}

func (s *wsStream) Connect(addr osadapt.Sockaddr, onDone func(error)) {
	onDone(nil)
}

func (s *wsStream) Send(buf []byte, onDone func(error)) {
	err := s.rt.conn.WriteMessage(websocket.BinaryMessage, buf)
	onDone(err)
}

func (s *wsStream) StartReceive(onData func([]byte), onError func(error)) {
	go func() {
		for {
			msgType, data, err := s.rt.conn.ReadMessage()
			if err != nil {
				onError(err)
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			for len(data) > hostruntime.StreamRecvBufferSize {
				onData(data[:hostruntime.StreamRecvBufferSize])
				data = data[hostruntime.StreamRecvBufferSize:]
			}
			onData(data)
		}
	}()
}

func (s *wsStream) Close() error {
	return s.rt.conn.Close()
}
