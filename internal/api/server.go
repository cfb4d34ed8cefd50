package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	gorillahandlers "github.com/gorilla/handlers"

	rtsup "dutyrec/internal/runtime/supervisor"
	logx "dutyrec/pkg/logx"
)

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server owns the listener for the status endpoint.
type Server struct {
	cfg     ServerConfig
	handler http.Handler
	log     logx.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

// NewServer wraps h with panic recovery and combined access logging.
func NewServer(cfg ServerConfig, h http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	access := &accessLog{log: log}
	wrapped := gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(access),
		gorillahandlers.PrintRecoveryStack(false),
	)(gorillahandlers.CombinedLoggingHandler(access, h))
	return &Server{cfg: cfg, handler: wrapped, log: log}
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener before returning so address errors surface to
// the caller; serving continues on a supervised goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       time.Minute,
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("http.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.log.Info("status endpoint listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup, s.ln = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); err == nil {
		err = werr
	}
	s.log.Info("status endpoint stopped")
	return err
}

// accessLog adapts gorilla's line-oriented loggers to logx.
type accessLog struct{ log logx.Logger }

func (a *accessLog) Write(p []byte) (int, error) {
	a.log.Debug("http", logx.String("line", string(bytes.TrimSpace(p))))
	return len(p), nil
}

func (a *accessLog) Println(v ...any) {
	a.log.Error("http handler panic", logx.String("panic", fmt.Sprint(v...)))
}
