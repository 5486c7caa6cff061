// Package hostruntime defines the boundary between the descriptor-table
// adaptation layer (internal/osadapt) and the strictly asynchronous,
// single-main-thread socket API a callback-driven host actually exposes.
// Everything below Runtime is an external collaborator: this package only
// models its shape and provides two concrete implementations, one for
// tests and native execution and one for a browser-plugin-style host whose
// only outbound primitive is a single WebSocket.
package hostruntime

import "moshvm/internal/osadapt"

// Runtime is the host's async socket API. All calls that would block on a
// real socket instead post a completion to a callback, invoked on the
// runtime's own posting discipline (which may or may not be the caller's
// goroutine).
type Runtime interface {
	// PostMainThread schedules task to run serially with every other task
	// this Runtime has been asked to run, mirroring a host whose async
	// socket calls are only safe to make from one thread.
	PostMainThread(task func())

	OpenTCP() (TCPSocket, error)
	OpenUDP() (UDPSocket, error)
}

// TCPSocket is one asynchronous, connection-oriented socket.
type TCPSocket interface {
	// Connect posts an async connect to addr; onDone fires exactly once,
	// with a non-nil error on failure (the Factory's adapter maps it
	// through MapError).
	Connect(addr osadapt.Sockaddr, onDone func(error))
	// Send posts an async send of buf in its entirety.
	Send(buf []byte, onDone func(err error))
	// StartReceive begins the receive loop: onData fires once per chunk
	// (up to StreamRecvBufferSize bytes), onError fires at most once and
	// ends the loop.
	StartReceive(onData func([]byte), onError func(error))
	Close() error
}

// UDPSocket is one asynchronous, connectionless socket.
type UDPSocket interface {
	Bind(addr osadapt.Sockaddr, onDone func(error))
	SendTo(buf []byte, addr osadapt.Sockaddr, onDone func(err error))
	// StartReceive begins the receive loop: onPacket fires once per
	// datagram (up to DatagramRecvBufferSize bytes), onError fires at
	// most once and ends the loop.
	StartReceive(onPacket func(from osadapt.Sockaddr, payload []byte), onError func(error))
	Close() error
}

// Fixed receive buffer sizes per the native transport adapter contract:
// one typical MTU for datagrams, 64 KiB for streams.
const (
	DatagramRecvBufferSize = 1500
	StreamRecvBufferSize   = 64 * 1024
)

// StreamSink and DatagramSink are the producer-side entry points a
// transport adapter drives. osadapt.StreamEndpoint and
// osadapt.DatagramEndpoint already implement these method sets.
type StreamSink interface {
	AddData(p []byte)
	MarkWriteReady()
	SetConnError(err error)
}

type DatagramSink interface {
	AddPacket(from osadapt.Sockaddr, payload []byte)
}
