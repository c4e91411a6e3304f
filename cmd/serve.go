package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barry-cosmo/barry/internal/archive"
	"github.com/barry-cosmo/barry/internal/dataset"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve dataset snapshots over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(dataset.NewRegistry(), dataDir()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("data_dir", dataDir()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the HTTP routes for the presets in reg, reading archives from dir.
func buildRouter(reg *dataset.Registry, dir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/datasets", func(w http.ResponseWriter, _ *http.Request) {
		type presetInfo struct {
			Name        string `json:"name"`
			Kind        string `json:"kind"`
			Description string `json:"description"`
		}
		presets := reg.All()
		out := make([]presetInfo, 0, len(presets))
		for _, p := range presets {
			out = append(out, presetInfo{Name: p.Name(), Kind: p.Kind().String(), Description: p.Description()})
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/datasets/{name}/snapshot", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if _, err := reg.Get(name); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		sr, err := parseRequest(req.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		snap, _, err := openSnapshot(reg, name, sr, dir)
		if err != nil {
			zap.L().Debug("snapshot request failed", zap.String("dataset", name), zap.Error(err))
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

// statusFor maps a dataset construction error to an HTTP status.
func statusFor(err error) int {
	switch {
	case eris.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, dataset.ErrConfig),
		eris.Is(err, dataset.ErrRealisationRange),
		eris.Is(err, dataset.ErrNoObservedData),
		eris.Is(err, dataset.ErrPoleUnavailable),
		eris.Is(err, dataset.ErrUnsupported),
		eris.Is(err, archive.ErrMissingBranch):
		return http.StatusBadRequest
	case eris.Is(err, dataset.ErrEmptyEnsemble),
		eris.Is(err, dataset.ErrEnsembleTooSmall),
		eris.Is(err, dataset.ErrSingularCovariance),
		eris.Is(err, dataset.ErrShape):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
