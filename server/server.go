// Package server exposes the Tern runner as a network service. The same
// port serves the Connect protocol (HTTP/JSON) and gRPC; messages are
// google.protobuf.Struct values.
package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/host"
	"github.com/chazu/tern/store"
)

// Server is the runner service.
type Server struct {
	pool *Pool
	mux  *http.ServeMux
	log  commonlog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store   *store.Store
	policy  *artifact.CapabilityPolicy
	run     host.Options
	workers int
}

// WithStore enables running and storing programs by hash.
func WithStore(st *store.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithPolicy sets the capability policy for remote programs.
// If not set, a permissive policy (allow all) is used.
func WithPolicy(policy *artifact.CapabilityPolicy) ServerOption {
	return func(c *serverConfig) { c.policy = policy }
}

// WithRunOptions sets the heap and machine options of every run.
func WithRunOptions(opts host.Options) ServerOption {
	return func(c *serverConfig) { c.run = opts }
}

// WithWorkers bounds the number of concurrent runs.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// New creates a Server.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{
		policy:  artifact.NewPermissivePolicy(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.run.Policy = cfg.policy

	s := &Server{
		pool: NewPool(cfg.workers),
		mux:  http.NewServeMux(),
		log:  commonlog.GetLogger("tern.server"),
	}

	svc := NewRunnerService(s.pool, cfg.store, cfg.run)
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, svc.Run))
	s.mux.Handle(StoreProcedure, connect.NewUnaryHandler(StoreProcedure, svc.Store))
	s.mux.Handle(ListProcedure, connect.NewUnaryHandler(ListProcedure, svc.List))
	return s
}

// Handler returns the service mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// HTTPServer returns an http.Server for addr that also accepts
// unencrypted HTTP/2, as gRPC clients require.
func (s *Server) HTTPServer(addr string) *http.Server {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	return &http.Server{Addr: addr, Handler: s.mux, Protocols: &protocols}
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	s.log.Noticef("tern runner listening on %s", addr)
	s.log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, RunProcedure)
	s.log.Noticef("  gRPC (binary):       grpc://%s", addr)
	return s.HTTPServer(addr).ListenAndServe()
}

// Stop shuts down the worker pool.
func (s *Server) Stop() {
	s.pool.Stop()
}
