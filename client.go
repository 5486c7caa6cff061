// Package moshvm is the Go port of the POSIX-over-callbacks adaptation
// layer and SSH bootstrap orchestrator that let a Mosh-like client operate
// against a strictly asynchronous, callback-driven host runtime.
package moshvm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	socks5 "github.com/armon/go-socks5"
	"github.com/prep/socketpair"
	"golang.org/x/crypto/ssh/agent"

	"moshvm/internal/agentwire"
	"moshvm/internal/bootstrap"
	"moshvm/internal/diag"
	"moshvm/internal/hostruntime"
	"moshvm/internal/hostruntime/netruntime"
	"moshvm/internal/lifecycle"
	"moshvm/internal/logging"
	"moshvm/internal/osadapt"
	"moshvm/internal/resolve"
)

// MoshLauncher runs the Mosh client proper once bootstrap (if any)
// succeeds, given its argv and environment. It is the external
// collaborator boundary of §1: the Mosh transport/terminal emulator
// itself is out of scope for this module.
type MoshLauncher interface {
	Launch(ctx context.Context, argv []string, env map[string]string) error
}

// Client is the root Client Instance of §4.K: it parses configuration,
// wires components A-J, and manages the two worker goroutines under the
// teacher's ShutdownHelper lifecycle (see share/client.go: embed, init,
// DoOnceActivate/ShutdownOnContext/WaitShutdown, HandleOnceShutdown).
type Client struct {
	lifecycle.ShutdownHelper

	logger   logging.Logger
	cfg      *Config
	embedder Embedder
	launcher MoshLauncher

	ft       *osadapt.FileTable
	sel      *osadapt.Selector
	stdin    *osadapt.StreamEndpoint
	stderr   *osadapt.StreamEndpoint
	resolver resolve.Resolver

	agentMu  sync.Mutex
	agentEP  net.Conn

	socksConnCount int64
	diagServer     *diag.Server
}

// NewClient wires every component named in §4.K from cfg.
func NewClient(logger logging.Logger, cfg *Config, embedder Embedder, launcher MoshLauncher) *Client {
	rt := netruntime.New()
	factory := hostruntime.NewFactory(rt)
	ft := osadapt.NewFileTable(logger, factory, factory)

	c := &Client{
		logger:   logger,
		cfg:      cfg,
		embedder: embedder,
		launcher: launcher,
		ft:       ft,
		sel:      ft.Selector(),
	}

	c.installStdEndpoints()
	ft.RegisterNamedFactory("/dev/urandom", osadapt.NewURandomFactory())
	ft.RegisterLocalStreamFactory("agent", c.newAgentStream)
	if cfg.SocksProxy {
		ft.RegisterLocalStreamFactory("socks", c.newSocksStream)
		if cfg.DiagAddr != "" {
			c.diagServer = diag.NewServer(logger.Fork("diag"), c)
		}
	}

	if cfg.UseDoHResolver {
		c.resolver = resolve.NewDoHResolver(logger.Fork("resolver"))
	} else {
		c.resolver = resolve.NewHostResolver(logger.Fork("resolver"))
	}

	c.InitShutdownHelper(logger.Fork("lifecycle"), c)

	return c
}

// installStdEndpoints wires the keyboard and terminal-output/stderr
// endpoints the Mosh worker reads/writes through, per §4.K.
func (c *Client) installStdEndpoints() {
	c.stdin = osadapt.NewStreamEndpoint(c.logger.Fork("keyboard"), c.sel, 0, noopStreamSender{})
	c.stdin.MarkWriteReady()

	stdout := osadapt.NewStreamEndpoint(c.logger.Fork("display"), c.sel, 1, displaySender{c: c})
	stdout.MarkWriteReady()

	c.stderr = osadapt.NewStreamEndpoint(c.logger.Fork("stderr"), c.sel, 2, displaySender{c: c})
	c.stderr.MarkWriteReady()

	c.ft.InstallStdEndpoints(c.stdin, stdout, c.stderr)
}

// noopStreamSender backs the keyboard endpoint (fd 0): the worker only
// ever reads from it. A write attempt is a programming error but must not
// panic the process.
type noopStreamSender struct{}

func (noopStreamSender) SendNonBlocking([]byte) (int, error)      { return 0, osadapt.EINVAL }
func (noopStreamSender) ConnectNonBlocking(osadapt.Sockaddr) error { return osadapt.EINVAL }
func (noopStreamSender) Bind(osadapt.Sockaddr) error               { return osadapt.EINVAL }
func (noopStreamSender) Close() error                              { return nil }

// displaySender backs stdout/stderr (fds 1/2): every write is forwarded to
// the embedder as a "display" message.
type displaySender struct{ c *Client }

func (d displaySender) SendNonBlocking(buf []byte) (int, error) {
	d.c.embedder.Send(OutboundMessage{Type: MsgDisplay, Data: string(buf)})
	return len(buf), nil
}
func (d displaySender) ConnectNonBlocking(osadapt.Sockaddr) error { return osadapt.EINVAL }
func (d displaySender) Bind(osadapt.Sockaddr) error               { return osadapt.EINVAL }
func (d displaySender) Close() error                              { return nil }

// InjectKeyboard feeds embedder-supplied keystrokes into fd 0, called from
// the embedder's own goroutine on receipt of a "keyboard" inbound message.
func (c *Client) InjectKeyboard(s string) {
	c.stdin.AddData([]byte(s))
}

// newAgentStream is the LocalStreamFactory for connect(fd, "agent"): one
// leg of a socketpair becomes the descriptor the worker thread uses to
// speak the SSH agent protocol; the other leg is read by a bridge
// goroutine that splits the bytes into length-prefixed packets and
// forwards each payload to the embedder as an ssh-agent message.
func (c *Client) newAgentStream(logger logging.Logger, sel *osadapt.Selector, id int) (osadapt.Stream, error) {
	local, remote, err := socketpair.New("unix")
	if err != nil {
		return nil, fmt.Errorf("moshvm: agent socketpair: %w", err)
	}
	c.agentMu.Lock()
	c.agentEP = remote
	c.agentMu.Unlock()

	ep := osadapt.NewNetConnStream(logger, sel, id, local)
	go c.bridgeAgent(remote)
	return ep, nil
}

// bridgeAgent forwards length-prefixed packets arriving on the
// worker-thread-facing socketpair leg to the embedder as ssh-agent
// messages, per the wire framing of §6.
func (c *Client) bridgeAgent(conn net.Conn) {
	buf := make([]byte, 4096)
	var dec agentwire.Decoder
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			packets, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				c.logger.WLogf("agent bridge: %s", decErr)
				continue
			}
			for _, p := range packets {
				c.embedder.Send(OutboundMessage{Type: MsgSSHAgent, Data: p})
			}
		}
		if err != nil {
			return
		}
	}
}

// DeliverAgentReply feeds one embedder-supplied ssh-agent reply into the
// bridge, re-framed per §6, called from the embedder's own goroutine on
// receipt of an ssh-agent inbound message. Upstream Mosh opens a single
// agent connection per bootstrap attempt, so the most recently created
// bridge is the only plausible target.
func (c *Client) DeliverAgentReply(payload []byte) error {
	c.agentMu.Lock()
	conn := c.agentEP
	c.agentMu.Unlock()
	if conn == nil {
		return fmt.Errorf("moshvm: no agent connection open")
	}
	_, err := conn.Write(agentwire.Encode(payload))
	return err
}

// newSocksStream is the LocalStreamFactory for connect(fd, "socks"), wired
// only when the socks-proxy configuration key is set. It exposes an
// armon/go-socks5 server over the same socketpair bridge pattern as the
// agent endpoint, letting the embedder proxy arbitrary TCP through the
// descriptor table without a new listen/accept surface.
func (c *Client) newSocksStream(logger logging.Logger, sel *osadapt.Selector, id int) (osadapt.Stream, error) {
	local, remote, err := socketpair.New("unix")
	if err != nil {
		return nil, fmt.Errorf("moshvm: socks socketpair: %w", err)
	}
	server, err := socks5.New(&socks5.Config{})
	if err != nil {
		return nil, fmt.Errorf("moshvm: socks5 server: %w", err)
	}
	atomic.AddInt64(&c.socksConnCount, 1)
	go func() {
		if err := server.ServeConn(remote); err != nil {
			logger.WLogf("socks5 connection ended: %s", err)
		}
	}()
	return osadapt.NewNetConnStream(logger, sel, id, local), nil
}

// ConnectionCount implements diag.StatusSource.
func (c *Client) ConnectionCount() int {
	return int(atomic.LoadInt64(&c.socksConnCount))
}

// Run drives the client to completion following the teacher's
// Client.Run/Start split: Run activates the helper exactly once, arms
// ShutdownOnContext, and blocks on WaitShutdown; Start launches the
// bootstrap-then-Mosh worker in its own goroutine and returns immediately,
// with the worker's outcome later reported through StartShutdown.
func (c *Client) Run(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.DoOnceActivate(func() error { return c.start(subCtx) }, true); err != nil {
		return err
	}
	c.ShutdownOnContext(ctx)
	return c.WaitShutdown()
}

func (c *Client) start(ctx context.Context) error {
	if c.diagServer != nil {
		if err := c.diagServer.ListenAndServe(ctx, c.cfg.DiagAddr); err != nil {
			return fmt.Errorf("moshvm: diag server: %w", err)
		}
		c.AddShutdownChild(c.diagServer)
	}
	go c.runWorker(ctx)
	return nil
}

func (c *Client) runWorker(ctx context.Context) {
	var err error
	if c.cfg.SSHMode {
		err = c.runSSHMode(ctx)
	} else {
		err = c.runDirectMode(ctx)
	}
	c.StartShutdown(err)
}

// HandleOnceShutdown implements lifecycle.OnceShutdownHandler: it tears
// down the Selector (unparking any blocked descriptor operation) and
// reports the outcome to the embedder as an "exit" message, per §4.K.
func (c *Client) HandleOnceShutdown(completionErr error) error {
	c.sel.Close()

	exitMsg := OutboundMessage{Type: MsgExit}
	if completionErr != nil {
		c.embedder.Send(OutboundMessage{Type: MsgError, Data: completionErr.Error()})
		exitMsg.Data = 1
	} else {
		exitMsg.Data = 0
	}
	c.embedder.Send(exitMsg)
	return completionErr
}

func (c *Client) runDirectMode(ctx context.Context) error {
	env := buildEnvironment(c.cfg, c.cfg.Key, nil)
	argv := []string{"mosh-client", c.cfg.Addr, c.cfg.Port}
	return c.launcher.Launch(ctx, argv, env)
}

func (c *Client) runSSHMode(ctx context.Context) error {
	sshKey, err := c.requestSSHKey()
	if err != nil {
		c.logger.WLogf("no ssh private key available: %s", err)
	}

	var kh bootstrap.KnownHosts = newEmbedderKnownHosts(c.embedder)
	if c.cfg.KnownHostsFile != "" {
		fkh, err := bootstrap.NewFileKnownHosts(c.logger.Fork("known_hosts"), c.cfg.KnownHostsFile)
		if err != nil {
			return fmt.Errorf("moshvm: known hosts file: %w", err)
		}
		defer fkh.Close()
		kh = fkh
	}
	prompter := autoDeclinePrompter{}

	bcfg := bootstrap.Config{
		Addr:          c.cfg.Addr,
		Port:          c.cfg.Port,
		Family:        c.cfg.Family,
		User:          c.cfg.User,
		ServerCommand: c.cfg.ServerCommand,
		RemoteCommand: c.cfg.RemoteCommand,
		UseAgent:      c.cfg.UseAgent,
		TrustSSHFP:    c.cfg.TrustSSHFP,
		PrivateKeyPEM: sshKey,
	}
	if c.cfg.UseAgent {
		bcfg.Agent = agent.NewClient(&agentEmbedderConn{c: c})
	}

	orch := bootstrap.NewOrchestrator(
		c.logger.Fork("bootstrap"),
		bcfg,
		c.resolver,
		c.resolver,
		kh,
		prompter,
		nil,
		func() (string, bool) { return "", false },
	)

	handshake, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("moshvm: ssh bootstrap: %w", err)
	}

	env := buildEnvironment(c.cfg, handshake.MoshKey, nil)
	argv := []string{"mosh-client", handshake.MoshAddr, handshake.MoshPort}
	return c.launcher.Launch(ctx, argv, env)
}

// requestSSHKey asks the embedder (via the synchronous get_ssh_key
// message) for the user's SSH private key material.
func (c *Client) requestSSHKey() ([]byte, error) {
	reply, err := c.embedder.Call(OutboundMessage{Type: MsgGetSSHKey})
	if err != nil {
		return nil, err
	}
	switch v := reply.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("moshvm: unexpected get_ssh_key reply type %T", reply)
	}
}

// autoDeclinePrompter implements bootstrap.Prompter by always declining
// changes -- an embedder that wants interactive host-key confirmation
// prompts the user itself via sync_get_known_hosts/sync_set_known_hosts
// before this orchestrator's known-hosts step ever runs.
type autoDeclinePrompter struct{}

func (autoDeclinePrompter) ConfirmHostKeyChange(hostPort, newFingerprint string) bool { return false }
func (autoDeclinePrompter) ConfirmLegacyMigration(legacyKey, hostPort string) bool    { return false }
