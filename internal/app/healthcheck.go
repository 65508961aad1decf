package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/vk/testprojbuilds/internal/ctxlog"
)

// healthHandler answers liveness checks.
func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler returns the latest event of every variant.
func (app *App) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, app.board.Snapshot())
}

// variantStatusHandler returns the latest event of one variant.
func (app *App) variantStatusHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["variant"]
	ev, ok := app.board.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no variant %q in this run", name)})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (app *App) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", app.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", app.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/status/{variant}", app.variantStatusHandler).Methods(http.MethodGet)
	return r
}

// statusServer starts the status HTTP server in the background.
func (app *App) statusServer() {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Configuring status server.")
	if app.config.StatusPort <= 0 {
		logger.Debug("Status server not started: disabled")
		return
	}

	addr := fmt.Sprintf(":%d", app.config.StatusPort)
	app.httpServer = &http.Server{
		Addr:              addr,
		Handler:           app.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		// ListenAndServe returns ErrServerClosed on graceful shutdown.
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
}

func (app *App) closeStatusServer() error {
	logger := ctxlog.FromContext(app.ctx)
	if app.httpServer == nil {
		logger.Debug("Status server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(app.ctx), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down status server...")
	if err := app.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Status server shutdown failed", "error", err)
		return err
	}
	app.httpServer = nil
	logger.Debug("Status server shut down gracefully.")
	return nil
}
