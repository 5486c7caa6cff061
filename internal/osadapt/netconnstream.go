package osadapt

import (
	"net"

	"moshvm/internal/logging"
)

// netConnStreamSender adapts an already-connected net.Conn (e.g. one leg
// of a socketpair) into a StreamSender, for endpoints that don't need the
// full asynchronous connect dance of a native transport adapter -- the
// named local stream socket is always "already up in the embedder".
type netConnStreamSender struct {
	conn net.Conn
}

func (s *netConnStreamSender) SendNonBlocking(buf []byte) (int, error) {
	n, err := s.conn.Write(buf)
	if err != nil {
		return n, EIO
	}
	return n, nil
}

func (s *netConnStreamSender) ConnectNonBlocking(addr Sockaddr) error {
	return nil
}

func (s *netConnStreamSender) Bind(addr Sockaddr) error {
	return EINVAL
}

func (s *netConnStreamSender) Close() error {
	return s.conn.Close()
}

// NewNetConnStream wraps an already-connected net.Conn as a StreamEndpoint
// registered with sel under id, immediately write-ready, with a receive
// loop feeding the endpoint's buffer.
func NewNetConnStream(logger logging.Logger, sel *Selector, id int, conn net.Conn) *StreamEndpoint {
	ep := NewStreamEndpoint(logger, sel, id, &netConnStreamSender{conn: conn})
	ep.MarkWriteReady()
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				ep.AddData(buf[:n])
			}
			if err != nil {
				ep.SetConnError(EIO)
				return
			}
		}
	}()
	return ep
}
