package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"moshvm/internal/logging"
	"moshvm/internal/resolve"
	"moshvm/internal/sshfacade"
	"moshvm/internal/sshfp"
)

// clientAuthOrder is the client-preferred auth method order, intersected
// with the server's advertised methods while preserving this order, per
// spec.md §4.J step 4.
var clientAuthOrder = []string{"publickey", "keyboard-interactive", "password"}

const authAttemptsPerMethod = 3

// Config carries everything the orchestrator needs: connection target,
// credentials, and the policy knobs from spec.md §6.
type Config struct {
	Addr           string
	Port           string
	Family         resolve.RRType // TypeA or TypeAAAA
	User           string
	ServerCommand  string
	RemoteCommand  string
	UseAgent       bool
	TrustSSHFP     bool
	PrivateKeyPEM  []byte
	PrivateKeyPass string
	Agent          agent.Agent
}

// DefaultServerCommand is used when Config.ServerCommand is empty.
const DefaultServerCommand = "mosh-server new -s -c 256 -l LANG=en_US.UTF-8"

// Orchestrator drives the five-step state machine of spec.md §4.J.
type Orchestrator struct {
	logger     logging.Logger
	cfg        Config
	resolver   resolve.Resolver
	sshfpRes   resolve.Resolver
	knownHosts KnownHosts
	prompter   Prompter
	kbHandler  sshfacade.KeyboardInteractiveHandler
	pwHandler  func() (password string, ok bool)
	dialer     func(ctx context.Context, network, addr string) (net.Conn, error)

	mu    sync.Mutex
	state State
}

// NewOrchestrator wires the orchestrator's collaborators. resolver answers
// A/AAAA; sshfpResolver answers SSHFP (may be the same Resolver instance
// when one backend serves both, e.g. DoHResolver).
func NewOrchestrator(logger logging.Logger, cfg Config, resolver, sshfpResolver resolve.Resolver, knownHosts KnownHosts, prompter Prompter, kbHandler sshfacade.KeyboardInteractiveHandler, pwHandler func() (string, bool)) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		cfg:        cfg,
		resolver:   resolver,
		sshfpRes:   sshfpResolver,
		knownHosts: knownHosts,
		prompter:   prompter,
		kbHandler:  kbHandler,
		pwHandler:  pwHandler,
		dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// State reports the orchestrator's current step.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run executes the five-step state machine, terminating on first failure.
func (o *Orchestrator) Run(ctx context.Context) (*Handshake, error) {
	addrs, fpset, err := o.resolveAddresses(ctx)
	if err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	remoteAddr := net.JoinHostPort(addrs[0], o.cfg.Port)

	o.setState(StateConnecting)
	session, conn, err := o.connect(ctx, remoteAddr)
	if err != nil {
		o.setState(StateFailed)
		return nil, err
	}
	defer func() {
		if session != nil {
			session.Disconnect()
		} else if conn != nil {
			conn.Close()
		}
	}()

	o.setState(StateCheckingHostKey)
	if err := o.checkHostKey(session, addrs[0], fpset); err != nil {
		o.setState(StateFailed)
		return nil, err
	}
	conn.Close()

	o.setState(StateAuthenticating)
	if err := o.authenticate(ctx, session, remoteAddr); err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	o.setState(StateHandshaking)
	hs, err := o.handshake(session)
	if err != nil {
		o.setState(StateFailed)
		return nil, err
	}

	o.setState(StateDone)
	return hs, nil
}

// resolveAddresses launches the A/AAAA and SSHFP queries concurrently and
// joins on both, per step 1.
func (o *Orchestrator) resolveAddresses(ctx context.Context) ([]string, *sshfp.RecordSet, error) {
	var wg sync.WaitGroup
	var addrResult resolve.Result
	var fpResult resolve.Result

	wg.Add(2)
	go func() {
		defer wg.Done()
		o.resolveWithRetry(o.cfg.Addr, o.cfg.Family, func(r resolve.Result) { addrResult = r })
	}()
	go func() {
		defer wg.Done()
		o.sshfpRes.Resolve(o.cfg.Addr, resolve.TypeSSHFP, func(r resolve.Result) { fpResult = r })
	}()
	wg.Wait()

	if addrResult.Status != resolve.OK || len(addrResult.Results) == 0 {
		return nil, nil, fmt.Errorf("bootstrap: resolve %s failed: %v", o.cfg.Addr, addrResult.Status)
	}

	var fpset *sshfp.RecordSet
	if fpResult.Status == resolve.OK && fpResult.Authenticity != resolve.Insecure {
		fpset, _ = sshfp.Parse(fpResult.Results)
	}
	// An INSECURE SSHFP answer is discarded outright, per step 1.

	return addrResult.Results, fpset, nil
}

// resolveWithRetry wraps a single resolver call with at most one retry on
// failure, bounded by a short backoff, before surfacing the failure --
// spec.md is silent on resolver retry policy beyond "rely on transport
// failure"; this keeps that as the terminal behavior.
func (o *Orchestrator) resolveWithRetry(name string, rrtype resolve.RRType, deliver func(resolve.Result)) {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: time.Second}
	var last resolve.Result
	done := make(chan struct{})

	attempt := func() {
		o.resolver.Resolve(name, rrtype, func(r resolve.Result) {
			last = r
			close(done)
		})
	}

	attempt()
	<-done
	if last.Status == resolve.OK {
		deliver(last)
		return
	}

	time.Sleep(b.Duration())
	done = make(chan struct{})
	attempt()
	<-done
	deliver(last)
}

func (o *Orchestrator) connect(ctx context.Context, remoteAddr string) (*sshfacade.Session, net.Conn, error) {
	conn, err := o.dial(ctx, remoteAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect to %s: %w", remoteAddr, err)
	}

	session := sshfacade.NewSession(o.logger, o.cfg.User)
	if o.kbHandler != nil {
		session.SetOption("keyboard-interactive-handler", o.kbHandler)
	}
	if err := session.Connect(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return session, conn, nil
}

func (o *Orchestrator) dial(ctx context.Context, remoteAddr string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return o.dialer(dialCtx, "tcp", remoteAddr)
}

// checkHostKey implements step 3: SSHFP first (when present), falling
// back to the known-hosts dictionary.
func (o *Orchestrator) checkHostKey(session *sshfacade.Session, addr string, fpset *sshfp.RecordSet) error {
	key := session.ServerPublicKey()
	hostPort := net.JoinHostPort(o.cfg.Addr, o.cfg.Port)
	addrPort := net.JoinHostPort(addr, o.cfg.Port)

	if fpset != nil && fpset.HasAny() {
		switch fpset.Validate(key) {
		case sshfp.Valid:
			if o.cfg.TrustSSHFP {
				return nil
			}
			// Not trust-sshfp: a valid SSHFP still counts as accepted,
			// but the known-hosts dictionary is still consulted so a
			// long-lived client's cache stays current.
			_, err := checkKnownHosts(o.knownHosts, o.prompter, hostPort, addrPort, fingerprintHex(key))
			return err
		case sshfp.Invalid:
			o.logger.ELogf("SSHFP validation failed for %s", hostPort)
			if o.cfg.TrustSSHFP {
				return fmt.Errorf("bootstrap: SSHFP validation failed for %s", hostPort)
			}
		case sshfp.Insufficient:
			// fall through to known-hosts
		}
	}

	state, err := checkKnownHosts(o.knownHosts, o.prompter, hostPort, addrPort, fingerprintHex(key))
	if err != nil {
		return err
	}
	if state == kChanged {
		return fmt.Errorf("bootstrap: host key for %s changed and was not accepted", hostPort)
	}
	return nil
}

func fingerprintHex(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// authenticate implements step 4: intersect server methods with the
// client's preferred order, try each up to 3 times, redialing a fresh
// transport for every attempt since the underlying library authenticates
// at connection time rather than incrementally.
func (o *Orchestrator) authenticate(ctx context.Context, session *sshfacade.Session, remoteAddr string) error {
	probeConn, err := o.dial(ctx, remoteAddr)
	if err != nil {
		return fmt.Errorf("bootstrap: auth probe dial: %w", err)
	}
	if err := session.AuthPassword(probeConn, ""); err == nil {
		// The server accepted an empty-credential ("none"-equivalent)
		// attempt outright; per step 4, stop immediately.
		return nil
	}
	probeConn.Close()
	methods := intersectPreserveOrder(clientAuthOrder, session.AvailableAuthTypes())

	var lastErr error
	for _, method := range methods {
		ok, err := o.tryMethod(ctx, session, remoteAddr, method)
		if ok {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("bootstrap: no usable authentication method")
	}
	return lastErr
}

func (o *Orchestrator) tryMethod(ctx context.Context, session *sshfacade.Session, remoteAddr, method string) (bool, error) {
	for attempt := 0; attempt < authAttemptsPerMethod; attempt++ {
		conn, err := o.dial(ctx, remoteAddr)
		if err != nil {
			return false, fmt.Errorf("bootstrap: auth dial: %w", err)
		}
		ok, aborted, authErr := o.authAttempt(session, conn, method)
		if ok {
			return true, nil
		}
		conn.Close()
		if aborted || authErr == nil {
			break
		}
	}
	return false, fmt.Errorf("bootstrap: method %q exhausted", method)
}

// authAttempt returns (succeeded, abortedEarly, error). Public-key tries
// the agent first (if enabled), then the in-memory key.
func (o *Orchestrator) authAttempt(session *sshfacade.Session, conn net.Conn, method string) (bool, bool, error) {
	switch method {
	case "publickey":
		if o.cfg.UseAgent && o.cfg.Agent != nil {
			if err := session.AuthAgent(conn, o.cfg.Agent); err == nil {
				return true, false, nil
			}
		}
		if len(o.cfg.PrivateKeyPEM) > 0 {
			signer, err := parsePrivateKey(o.cfg.PrivateKeyPEM, o.cfg.PrivateKeyPass)
			scrub(o.cfg.PrivateKeyPEM)
			if err != nil {
				return false, true, err
			}
			if err := session.AuthPublicKey(conn, signer); err == nil {
				return true, false, nil
			}
		}
		return false, true, nil
	case "keyboard-interactive":
		err := session.AuthKeyboardInteractive(conn)
		return err == nil, err != nil, err
	case "password":
		if o.pwHandler == nil {
			return false, true, nil
		}
		password, ok := o.pwHandler()
		if !ok || password == "" {
			return false, true, nil
		}
		err := session.AuthPassword(conn, password)
		scrub([]byte(password))
		return err == nil, err != nil, err
	default:
		return false, true, nil
	}
}

func parsePrivateKey(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(pemBytes)
}

// scrub zeroes a sensitive buffer immediately after use, per the design
// note that passphrases/keys/agent payloads must be scrubbed on every
// exit path.
func scrub(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func intersectPreserveOrder(preferred, available []string) []string {
	if len(available) == 0 {
		return preferred
	}
	set := make(map[string]bool, len(available))
	for _, m := range available {
		set[m] = true
	}
	var out []string
	for _, m := range preferred {
		if set[m] {
			out = append(out, m)
		}
	}
	return out
}

// handshake implements step 5: open a channel, request a PTY, execute the
// server command, and parse the reply.
func (o *Orchestrator) handshake(session *sshfacade.Session) (*Handshake, error) {
	client := session.Client()
	sshSession, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open session: %w", err)
	}
	defer sshSession.Close()

	if err := sshSession.RequestPty("xterm", 80, 24, ssh.TerminalModes{}); err != nil {
		return nil, fmt.Errorf("bootstrap: pty request: %w", err)
	}

	cmd := o.cfg.ServerCommand
	if cmd == "" {
		cmd = DefaultServerCommand
	}
	if o.cfg.RemoteCommand != "" {
		cmd += " -- " + o.cfg.RemoteCommand
	}

	out, err := sshSession.Output(cmd)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("bootstrap: exec %q: %w", cmd, err)
	}

	o.logger.ILogf("%s", normalizeToCRLF(string(out)))
	return parseHandshake(string(out))
}
