package transport

import (
	"context"
	"errors"
	"log"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server is the process's HTTP(+WS) listener, adapted from the
// teacher's gateway/server/server.go (h2c-wrapped stdlib server with a
// graceful Shutdown).
type Server struct {
	httpServer *http.Server
}

// New wraps handler (already CORS'd and routed) in h2c.NewHandler so
// the process speaks cleartext HTTP/2 without a TLS terminator in
// front, exactly as the teacher's gateway does.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: h2c.NewHandler(handler, &http2.Server{}),
		},
	}
}

func (s *Server) Start() error {
	log.Printf("transport: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
