/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package webserver exposes the HTTP edge of the control plane: a
// liveness endpoint, the Prometheus metrics endpoint and the websocket
// stream fed by the event hub.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polybackup/polybackup/pkg/hub"
	"github.com/polybackup/polybackup/pkg/management/log"
)

const (
	// defaultReadHeaderTimeout bounds how long a client may take to send
	// its request headers. The body read is left unbounded: websocket
	// sessions hold their connection open for as long as they live.
	defaultReadHeaderTimeout = 3 * time.Second

	// shutdownTimeout bounds the graceful drain when Start is cancelled
	shutdownTimeout = 5 * time.Second
)

// Server is the HTTP face of the control plane
type Server struct {
	server   *http.Server
	eventHub *hub.Hub
}

// New wires the endpoints onto a fresh mux. The registry backs the
// metrics endpoint, the hub feeds every websocket session.
func New(listenAddress string, eventHub *hub.Hub, registry *prometheus.Registry) *Server {
	srv := &Server{eventHub: eventHub}

	serveMux := http.NewServeMux()
	serveMux.HandleFunc("/healthz", serveHealth)
	serveMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	serveMux.HandleFunc("/ws", srv.serveEvents)

	srv.server = &http.Server{
		Addr:              listenAddress,
		Handler:           serveMux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return srv
}

func serveHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = fmt.Fprint(w, "ok")
}

// Start serves until the context is cancelled, then drains gracefully.
// Websocket sessions are hijacked connections and survive the drain:
// they end when the hub closes or their peer hangs up.
func (s *Server) Start(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("Starting the web server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("while serving HTTP: %w", err)
	case <-ctx.Done():
	}

	contextLogger.Info("Stopping the web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("while shutting down the web server: %w", err)
	}
	return nil
}
