// Package sshfacade wraps golang.org/x/crypto/ssh behind the stable
// capability surface the bootstrap orchestrator drives: connect,
// authenticate (password, keyboard-interactive, public key, agent),
// inspect the server's host key, open channels.
package sshfacade

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"moshvm/internal/logging"
)

// connectTimeout is the fixed SSH connection timeout, per §4.I.
const connectTimeout = 30 * time.Second

// hostKeyAlgorithms is the constrained host-key type list: ed25519 is
// temporarily excluded as a workaround, per §4.I.
var hostKeyAlgorithms = []string{
	ssh.KeyAlgoRSA,
	ssh.KeyAlgoDSA,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
}

// KeyboardInteractivePrompt is one prompt in a keyboard-interactive
// sub-session, carrying the echo flag the facade exposes per §4.I.
type KeyboardInteractivePrompt struct {
	Instruction string
	Name        string
	Prompt      string
	Echo        bool
}

// KeyboardInteractiveHandler answers a batch of prompts, returning one
// answer per prompt. An empty return aborts the method early.
type KeyboardInteractiveHandler func(prompts []KeyboardInteractivePrompt) []string

// Session wraps an ssh.Client/ssh.Conn and its pending auth methods,
// assembled incrementally as the bootstrap orchestrator tries them.
type Session struct {
	logger logging.Logger
	user   string

	conn       net.Conn
	clientConn ssh.Conn
	newChans   <-chan ssh.NewChannel
	reqs       <-chan *ssh.Request
	client     *ssh.Client

	serverKey    ssh.PublicKey
	serverBanner string
	authMethods  []string

	kbHandler KeyboardInteractiveHandler
}

// NewSession constructs a Session for user, unconnected.
func NewSession(logger logging.Logger, user string) *Session {
	return &Session{logger: logger, user: user}
}

// SetOption is the facade's generic option setter, per §4.I; currently
// only the keyboard-interactive answer handler is exposed this way.
func (s *Session) SetOption(name string, value interface{}) error {
	switch name {
	case "keyboard-interactive-handler":
		h, ok := value.(KeyboardInteractiveHandler)
		if !ok {
			return fmt.Errorf("sshfacade: keyboard-interactive-handler must be a KeyboardInteractiveHandler")
		}
		s.kbHandler = h
		return nil
	default:
		return fmt.Errorf("sshfacade: unknown option %q", name)
	}
}

// Connect dials conn and performs the SSH handshake up through the point
// of server-key inspection (it does not yet authenticate: the config's
// HostKeyCallback captures the offered key and method list without
// accepting or rejecting, deferring that decision to the orchestrator's
// host-key-check step).
func (s *Session) Connect(conn net.Conn) error {
	s.conn = conn

	captured := make(chan ssh.PublicKey, 1)
	cfg := &ssh.ClientConfig{
		User:              s.user,
		Timeout:           connectTimeout,
		HostKeyAlgorithms: hostKeyAlgorithms,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			captured <- key
			return nil
		},
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, conn.RemoteAddr().String(), cfg)
	if err != nil {
		return fmt.Errorf("sshfacade: connect: %w", err)
	}
	s.clientConn = clientConn
	s.newChans = chans
	s.reqs = reqs
	s.client = ssh.NewClient(clientConn, chans, reqs)

	select {
	case key := <-captured:
		s.serverKey = key
	default:
	}
	return nil
}

// Disconnect closes the underlying connection.
func (s *Session) Disconnect() error {
	if s.client != nil {
		return s.client.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// ServerPublicKey returns the host key captured during Connect.
func (s *Session) ServerPublicKey() ssh.PublicKey {
	return s.serverKey
}

// AvailableAuthTypes is a placeholder pending the first authentication
// attempt: golang.org/x/crypto/ssh only reports the server's advertised
// methods via a PartialSuccessError returned from an auth attempt, so the
// orchestrator learns the true set from the first AuthPassword/
// AuthPublicKey/AuthKeyboardInteractive call's error and re-drives from
// there (mirrored in internal/bootstrap's auth loop).
func (s *Session) AvailableAuthTypes() []string {
	return s.authMethods
}

func (s *Session) recordMethods(err error) error {
	if pse, ok := err.(*ssh.PartialSuccessError); ok {
		s.authMethods = pse.Next.Methods()
	}
	return err
}

// AuthPassword attempts password authentication over conn, a freshly
// dialed transport to the same host whose key was already captured by
// Connect.
func (s *Session) AuthPassword(conn net.Conn, password string) error {
	return s.tryAuth(conn, ssh.Password(password))
}

// AuthKeyboardInteractive drives a keyboard-interactive sub-session over
// conn through the registered handler.
func (s *Session) AuthKeyboardInteractive(conn net.Conn) error {
	return s.tryAuth(conn, ssh.KeyboardInteractiveChallenge(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		prompts := make([]KeyboardInteractivePrompt, len(questions))
		for i, q := range questions {
			echo := false
			if i < len(echos) {
				echo = echos[i]
			}
			prompts[i] = KeyboardInteractivePrompt{Instruction: instruction, Name: name, Prompt: q, Echo: echo}
		}
		if s.kbHandler == nil {
			return nil, fmt.Errorf("sshfacade: no keyboard-interactive handler registered")
		}
		return s.kbHandler(prompts), nil
	}))
}

// AuthPublicKey attempts public-key authentication with signer over conn.
func (s *Session) AuthPublicKey(conn net.Conn, signer ssh.Signer) error {
	return s.tryAuth(conn, ssh.PublicKeys(signer))
}

// AuthAgent attempts public-key authentication over conn against every
// identity an agent.Agent offers.
func (s *Session) AuthAgent(conn net.Conn, a agent.Agent) error {
	return s.tryAuth(conn, ssh.PublicKeysCallback(a.Signers))
}

// tryAuth performs the client-auth handshake over conn with method as the
// sole auth method. The x/crypto/ssh client handshake authenticates at
// NewClientConn time rather than incrementally, so each method attempt
// needs its own freshly dialed transport; the caller supplies one per
// call since only it knows how to redial (plain TCP, or through the
// descriptor-table emulation).
func (s *Session) tryAuth(conn net.Conn, method ssh.AuthMethod) error {
	cfg := &ssh.ClientConfig{
		User:              s.user,
		Timeout:           connectTimeout,
		HostKeyAlgorithms: hostKeyAlgorithms,
		Auth:              []ssh.AuthMethod{method},
		HostKeyCallback:   ssh.FixedHostKey(s.serverKey),
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, conn.RemoteAddr().String(), cfg)
	if err != nil {
		return s.recordMethods(err)
	}
	s.conn = conn
	s.clientConn = clientConn
	s.newChans = chans
	s.reqs = reqs
	s.client = ssh.NewClient(clientConn, chans, reqs)
	return nil
}

// NewChannel opens a new SSH channel of the given type, returning the
// channel and its request stream.
func (s *Session) NewChannel(channelType string, extra []byte) (ssh.Channel, <-chan *ssh.Request, error) {
	return s.client.Conn.OpenChannel(channelType, extra)
}

// Client exposes the underlying ssh.Client once authenticated, for
// higher-level operations (PTY + exec) the bootstrap orchestrator's
// handshake step needs.
func (s *Session) Client() *ssh.Client {
	return s.client
}
