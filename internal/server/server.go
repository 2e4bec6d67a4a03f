package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"

	"github.com/remiblancher/tak-trust/internal/observability"
	"github.com/remiblancher/tak-trust/internal/trust"
)

// Server is the mutual-TLS listener. The trust configuration is assembled
// once at construction; every inbound handshake reuses it without touching
// the filesystem.
type Server struct {
	cfg      *Config
	log      *slog.Logger
	trust    *trust.Config
	reloader *trust.Reloader
	httpSrv  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New builds the trust configuration from the config's PEM files and
// prepares the listener. It fails fast on any trust error: starting a
// listener without verified trust material is unsafe.
func New(cfg *Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	trustCfg, err := trust.Load(cfg.CertFile, cfg.KeyFile, cfg.CAFile, cfg.RequireClientCert)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:   cfg,
		log:   logger,
		trust: trustCfg,
	}

	if cfg.ReloadCerts {
		reloader, err := trust.NewReloader(cfg.CertFile, cfg.KeyFile, logger)
		if err != nil {
			return nil, err
		}
		trustCfg.UseReloader(reloader)
		s.reloader = reloader
	}

	s.httpSrv = &http.Server{
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
		IdleTimeout:  cfg.IdleTimeout.Std(),
	}
	// Serve the h2 half of the advertised ALPN list.
	if err := http2.ConfigureServer(s.httpSrv, &http2.Server{}); err != nil {
		return nil, err
	}

	return s, nil
}

// router wires the status endpoints served to authenticated peers.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(observability.WithLogger(req.Context(), s.log)))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		status := struct {
			Status   string `json:"status"`
			Protocol string `json:"protocol"`
			Mutual   bool   `json:"mutual_tls"`
			Peer     string `json:"peer,omitempty"`
		}{
			Status: "ok",
		}
		if req.TLS != nil {
			status.Protocol = req.TLS.NegotiatedProtocol
			if len(req.TLS.PeerCertificates) > 0 {
				status.Mutual = true
				status.Peer = req.TLS.PeerCertificates[0].Subject.CommonName
			}
		}
		observability.Logger(req.Context()).Debug("status request",
			"remote", req.RemoteAddr, "mutual_tls", status.Mutual)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	return r
}

// Listen binds the TCP listener and wraps it with the trust configuration.
func (s *Server) Listen() error {
	inner, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = s.trust.NewListener(inner)
	s.mu.Unlock()

	if s.reloader != nil {
		s.reloader.Watch()
	}
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until Shutdown. Every accepted connection
// performs the TLS handshake under the trust configuration; with mutual TLS
// enabled, unauthenticated peers are rejected before any application data.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return fmt.Errorf("not listening: call Listen before Serve")
	}

	s.log.Info("listener started", "addr", l.Addr().String(), "mutual_tls", s.cfg.RequireClientCert)
	err := s.httpSrv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight connections and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.reloader != nil {
		s.reloader.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

// Run listens and serves until ctx is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.log.Error("shutdown failed", "error", err)
	}

	err := <-errCh
	s.log.Info("listener stopped")
	return err
}
