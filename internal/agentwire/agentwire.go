// Package agentwire implements the length-prefixed SSH agent packet
// framing carried over the embedder's ssh_agent message: a 4-byte
// big-endian size followed by that many payload bytes.
package agentwire

import (
	"encoding/binary"
	"fmt"
)

const lengthPrefixSize = 4

// Encode frames payload as a single length-prefixed packet.
func Encode(payload []byte) []byte {
	out := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[lengthPrefixSize:], payload)
	return out
}

// Decoder reassembles length-prefixed packets out of arbitrarily-chunked
// input, buffering a partial packet across Feed calls.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and returns every complete
// packet now available, in arrival order. A partially buffered packet is
// retained (not reported) until the rest of it arrives.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var packets [][]byte
	for {
		if len(d.buf) < lengthPrefixSize {
			break
		}
		size := binary.BigEndian.Uint32(d.buf)
		if size > 1<<24 {
			return packets, fmt.Errorf("agentwire: implausible packet size %d", size)
		}
		total := lengthPrefixSize + int(size)
		if len(d.buf) < total {
			break
		}
		packet := make([]byte, size)
		copy(packet, d.buf[lengthPrefixSize:total])
		packets = append(packets, packet)
		d.buf = d.buf[total:]
	}
	return packets, nil
}
