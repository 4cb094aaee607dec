package server

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"calcjob/internal/logging"
)

type Server struct {
	name       string
	httpServer *http.Server
	logger     logging.Logger
}

// New serves handler on addr over HTTP/1.1 and cleartext HTTP/2.
func New(name, addr string, handler http.Handler, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Server{
		name:   name,
		logger: logger,
		httpServer: &http.Server{
			Addr:    addr,
			Handler: h2c.NewHandler(handler, &http2.Server{}),
		},
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting server", "name", s.name, "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
