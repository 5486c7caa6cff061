package moshvm

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"moshvm/internal/agentwire"
)

// embedderKnownHosts implements bootstrap.KnownHosts by round-tripping
// through the embedder's sync_get_known_hosts/sync_set_known_hosts
// messages of §6, so the persisted store lives wherever the embedder
// keeps it (e.g. browser local storage) rather than in this process.
type embedderKnownHosts struct {
	embedder Embedder
}

func newEmbedderKnownHosts(e Embedder) *embedderKnownHosts {
	return &embedderKnownHosts{embedder: e}
}

func (k *embedderKnownHosts) Lookup(key string) (string, bool) {
	reply, err := k.embedder.Call(OutboundMessage{Type: MsgSyncGetKnownHosts, Data: key})
	if err != nil {
		return "", false
	}
	fingerprint, ok := reply.(string)
	if !ok || fingerprint == "" {
		return "", false
	}
	return fingerprint, true
}

func (k *embedderKnownHosts) Store(key, fingerprint string) {
	k.embedder.Call(OutboundMessage{Type: MsgSyncSetKnownHosts, Data: map[string]string{
		"key":         key,
		"fingerprint": fingerprint,
	}})
}

func (k *embedderKnownHosts) Delete(key string) {
	k.embedder.Call(OutboundMessage{Type: MsgSyncSetKnownHosts, Data: map[string]string{
		"key":         key,
		"fingerprint": "",
	}})
}

// agentEmbedderConn adapts the embedder's ssh-agent message exchange into
// the io.ReadWriter that golang.org/x/crypto/ssh/agent.NewClient expects,
// for the bootstrap orchestrator's own publickey-via-agent auth attempts.
// agent.NewClient always writes one length-prefixed request and then
// reads one length-prefixed response, so a synchronous Call per Write is
// sufficient -- no bridging goroutine is needed here, unlike the
// worker-facing "agent" local stream socket.
type agentEmbedderConn struct {
	c *Client

	mu   sync.Mutex
	resp *bytes.Reader
}

func (a *agentEmbedderConn) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var dec agentwire.Decoder
	packets, err := dec.Feed(p)
	if err != nil {
		return 0, err
	}
	if len(packets) != 1 {
		return 0, fmt.Errorf("moshvm: agent rpc: expected one request packet, got %d", len(packets))
	}

	reply, err := a.c.embedder.Call(OutboundMessage{Type: MsgSSHAgent, Data: packets[0]})
	if err != nil {
		return 0, err
	}
	payload, ok := reply.([]byte)
	if !ok {
		if s, ok2 := reply.(string); ok2 {
			payload = []byte(s)
		} else {
			return 0, fmt.Errorf("moshvm: agent rpc: unexpected reply type %T", reply)
		}
	}

	a.resp = bytes.NewReader(agentwire.Encode(payload))
	return len(p), nil
}

func (a *agentEmbedderConn) Read(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resp == nil {
		return 0, io.EOF
	}
	return a.resp.Read(p)
}
