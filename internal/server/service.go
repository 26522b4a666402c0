package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPService runs the API under a suture supervisor.
type HTTPService struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// Service wraps s in an http.Server listening on addr.
func (s *Server) Service(addr string, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		srv: &http.Server{
			Addr:              addr,
			Handler:           s,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve blocks until ctx is cancelled or the listener fails.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// ctx is already cancelled.
		sctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }
