// Package diag exposes a small optional HTTP status endpoint alongside
// the local SOCKS proxy, adapted from the teacher's HTTPServer.
package diag

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/tomasen/realip"

	"moshvm/internal/lifecycle"
	"moshvm/internal/logging"
)

// StatusSource answers the single diagnostic question this endpoint
// exists to expose: how many SOCKS connections has the local proxy
// accepted.
type StatusSource interface {
	ConnectionCount() int
}

// Server is an HTTPServer with graceful shutdown wired through
// lifecycle.ShutdownHelper, carrying one handler: GET /status.
type Server struct {
	lifecycle.ShutdownHelper
	*http.Server
	listener net.Listener
	source   StatusSource
}

// NewServer creates a diagnostics Server reporting through source.
func NewServer(logger logging.Logger, source StatusSource) *Server {
	s := &Server{
		Server: &http.Server{},
		source: source,
	}
	s.Server.Handler = http.HandlerFunc(s.handleStatus)
	s.InitShutdownHelper(logger, s)
	return s
}

// HandleOnceShutdown implements lifecycle.OnceShutdownHandler.
func (s *Server) HandleOnceShutdown(completionErr error) error {
	err := s.listener.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// handleStatus logs the real originating address of the request (as
// opposed to a reverse-proxy hop address) and reports the SOCKS
// connection count.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clientIP := realip.FromRequest(r)
	s.ILogf("status request from %s", clientIP)
	fmt.Fprintf(w, "socks connections: %d\n", s.source.ConnectionCount())
}

// ListenAndServe opens a listener on addr and serves it in a background
// goroutine; it returns as soon as the listener is open (or failed to
// open). Serving ends on ctx cancellation or Shutdown().
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return s.DoOnceActivate(func() error {
		s.ShutdownOnContext(ctx)

		l, err := net.Listen("tcp", addr)
		if err != nil {
			return s.ELogErrorf("diag: listen failed: %s", err)
		}
		s.listener = l

		go func() {
			s.ShutdownHelper.Shutdown(s.Server.Serve(l))
		}()
		return nil
	}, true)
}
