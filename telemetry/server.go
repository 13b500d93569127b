package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/felixge/fgprof"
)

// Server exposes the telemetry feed on /telemetry, the runtime profiles under
// /debug/pprof/ and a wall-clock profile on /debug/fgprof.
type Server struct {
	logger *slog.Logger
	ln     net.Listener
	srv    *http.Server
	errc   chan error
}

func NewServer(addr string, hub *Hub, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	if hub != nil {
		mux.Handle("/telemetry", hub)
	}
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/fgprof", fgprof.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		logger: logger,
		ln:     ln,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		errc: make(chan error, 1),
	}, nil
}

// Addr is the address the server listens on, useful when it was given port 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Start serves in the background.
func (s *Server) Start() {
	s.logger.Info("telemetry listening", "addr", s.ln.Addr().String())
	go func() {
		err := s.srv.Serve(s.ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.errc <- err
	}()
}

// Close stops accepting, gives in-flight requests until ctx is done, and returns
// the error Serve exited with, if any.
func (s *Server) Close(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return err
	}
	select {
	case err := <-s.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
