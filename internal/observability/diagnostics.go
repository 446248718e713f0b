package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const diagnosticsHeaderTimeout = 5 * time.Second

// DiagnosticsServer serves /healthz and, when enabled, /metrics while a
// long decode runs.
type DiagnosticsServer struct {
	srv  *http.Server
	addr net.Addr
}

// NewDiagnosticsServer listens on addr and serves in the background. A nil
// metrics handler leaves /metrics unrouted.
func NewDiagnosticsServer(addr string, metrics http.Handler, logger *slog.Logger) (*DiagnosticsServer, error) {
	started := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")

		_ = json.NewEncoder(rw).Encode(map[string]any{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	d := &DiagnosticsServer{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: diagnosticsHeaderTimeout},
		addr: ln.Addr(),
	}

	go func() {
		if err := d.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("diagnostics server stopped", "error", err)
		}
	}()

	return d, nil
}

// Addr returns the bound address, useful when addr selected port 0.
func (d *DiagnosticsServer) Addr() string { return d.addr.String() }

// Close stops accepting requests and waits for in-flight ones.
func (d *DiagnosticsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := d.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}
