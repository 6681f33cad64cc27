package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/model"
	"github.com/gradient-research/etwfe/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored runs over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		addr := serveAddr
		if addr == "" {
			addr = cfg.Serve.Addr
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           buildRouter(st),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()

		zap.L().Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// buildRouter assembles the read-only API over a store.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := st.Ping(req.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", handleListRuns(st))
		r.Get("/runs/{id}", handleGetRun(st))
		r.Get("/runs/{id}/effects", handleListEffects(st))
	})
	return r
}

func handleListRuns(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.RunFilter{
			Dataset: q.Get("dataset"),
			Family:  q.Get("family"),
		}
		var ok bool
		if filter.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
			return
		}
		if filter.Offset, ok = queryInt(w, q.Get("offset"), "offset"); !ok {
			return
		}

		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("list runs", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		respondJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			zap.L().Error("get run", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "get run failed")
			return
		}
		respondJSON(w, http.StatusOK, run)
	}
}

func handleListEffects(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		kind := req.URL.Query().Get("kind")
		if kind != "" && !model.ValidEffectKind(kind) {
			respondError(w, http.StatusBadRequest, "unknown effect kind")
			return
		}

		id := chi.URLParam(req, "id")
		if _, err := st.GetRun(req.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusNotFound, "run not found")
				return
			}
			zap.L().Error("get run", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "get run failed")
			return
		}

		effects, err := st.ListEffects(req.Context(), id, model.EffectKind(kind))
		if err != nil {
			zap.L().Error("list effects", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "list effects failed")
			return
		}
		if effects == nil {
			effects = []model.Effect{}
		}
		respondJSON(w, http.StatusOK, effects)
	}
}

// queryInt parses an optional non-negative integer query parameter. A bad
// value writes a 400 response and returns ok=false.
func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
