package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/GoScope/internal/logging"
)

// WebServer exposes capture history and live updates over HTTP.
type WebServer struct {
	srv *http.Server
	hub *Hub
}

// NewWebServer builds an HTTP server serving the telemetry endpoints.
func NewWebServer(addr string, hub *Hub) *WebServer {
	return &WebServer{
		hub: hub,
		srv: &http.Server{Addr: addr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the routes served by the hub.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/latest", h.handleLatest)
	mux.HandleFunc("/api/config", h.handleConfig)
	mux.HandleFunc("/api/live", h.handleLive)
	return mux
}

// Start listens until the context is canceled.
func (w *WebServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.hub.logger.Warn("web telemetry shutdown", logging.F("error", err))
		}
	}()

	w.hub.logger.Info("web telemetry listening", logging.F("addr", w.srv.Addr))
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
