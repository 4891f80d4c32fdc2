package monitorhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sdqctl/sdqctl/internal/logger"
)

// Serve starts an http.Server on addr backed by s.Handler() and blocks
// until ctx is cancelled, then shuts it down gracefully. Grounded on the
// teacher's internal/service.Daemon.Start/shutdown lifecycle, narrowed
// to one blocking call since monitorhttp has no PID file or signal
// handling of its own — that belongs to the CLI process, not this
// package.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitorhttp: listen %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.GetLogger().Warn().Err(err).Msg("monitorhttp shutdown")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
