// Package httpapi serves the relay control and status API.
//
// The server runs under a supervisor restart loop and can be reconfigured
// while running. Binding a non-loopback address needs a bearer token unless
// AllowInsecure is set.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"oscrelay/internal/runtime/supervisor"
	logx "oscrelay/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

const defaultAddr = "127.0.0.1:8080"

var errInsecureBind = errors.New("http api refused to start: non-loopback addr requires token or allow_insecure")

// Server owns the listener lifecycle; routing lives in the handler passed to New.
type Server struct {
	api http.Handler
	log logx.Logger

	mu    sync.Mutex
	cfg   Config
	sup   *supervisor.Supervisor
	srv   *http.Server
	ln    net.Listener
	ready chan struct{}
}

func New(cfg Config, api http.Handler, log logx.Logger) *Server {
	return &Server{cfg: cfg, api: api, log: log.With(logx.String("comp", "http"))}
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Ready is closed once the listener is bound. It is nil before Start.
func (s *Server) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Supervisor exposes the restart loop for status output; nil when stopped.
func (s *Server) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start begins serving if enabled. It fails fast on an insecure bind.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return nil
	}
	cfg := s.cfg
	addr := addrOrDefault(cfg.Addr)
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			s.log.Error("http api refused to start", logx.String("addr", addr))
			return errInsecureBind
		}
		s.log.Warn("http api running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	s.ready = make(chan struct{})
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	ready := s.ready
	s.sup.GoRestart("http.serve", func(c context.Context) error {
		return s.serveOnce(c, cfg, addr, ready)
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.ln = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	err := sup.Wait(ctx)
	s.log.Info("http api stopped")
	return err
}

// Reconfigure applies cfg, restarting the listener when it changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		return s.Stop(ctx)
	case !running:
		return s.Start(ctx)
	case prev != cfg:
		if err := s.Stop(ctx); err != nil {
			s.log.Warn("http api stop during reconfigure failed", logx.Err(err))
		}
		return s.Start(ctx)
	}
	return nil
}

func (s *Server) serveOnce(ctx context.Context, cfg Config, addr string, ready chan struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("http api listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}

	srv := &http.Server{
		Handler:           s.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv, s.ln = srv, ln
	select {
	case <-ready:
	default:
		close(ready)
	}
	s.mu.Unlock()

	// Covers a Stop that raced the bind and never saw srv.
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
	}()

	s.log.Info("http api started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""), logx.Bool("pprof", cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// routes wraps the API with auth and, when enabled, mounts pprof.
func (s *Server) routes(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", withAuth(cfg.Token, s.api))
	if cfg.Pprof {
		mux.Handle("/debug/pprof/", withAuth(cfg.Token, http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", withAuth(cfg.Token, http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", withAuth(cfg.Token, http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", withAuth(cfg.Token, http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", withAuth(cfg.Token, http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

func addrOrDefault(addr string) string {
	if a := strings.TrimSpace(addr); a != "" {
		return a
	}
	return defaultAddr
}
