package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/migrate"
	"github.com/sells-group/crm-migrate/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job API server",
	Long: "Exposes migration runs as jobs over HTTP: submit a phase, poll its " +
		"progress, fetch the final report, or cancel it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		mgr := migrate.NewManager()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, mgr, func() (*migrate.Orchestrator, error) {
				return initOrchestrator(st)
			}),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter wires the job endpoints. baseCtx outlives individual requests and
// parents every job, so jobs keep running after the submitting request ends.
// newOrch builds a fresh orchestrator per job; progress wiring is per-run
// state, so jobs cannot share one.
func newRouter(baseCtx context.Context, mgr *migrate.Manager, newOrch func() (*migrate.Orchestrator, error)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Phase string `json:"phase"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.Phase == "" {
			body.Phase = string(model.PhaseCombined)
		}
		phase := model.Phase(body.Phase)
		switch phase {
		case model.PhaseFields, model.PhasePipelines, model.PhaseContacts,
			model.PhaseOpportunities, model.PhaseCombined:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown phase %q", body.Phase)})
			return
		}

		orch, err := newOrch()
		if err != nil {
			zap.L().Error("job setup failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "job setup failed"})
			return
		}

		id := mgr.Start(baseCtx, orch, phase)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": id,
			"phase":  string(phase),
		})
	})

	r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, mgr.List())
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		snap, ok := mgr.Get(chi.URLParam(req, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/jobs/{id}/report", func(w http.ResponseWriter, req *http.Request) {
		report, ok := mgr.Report(chi.URLParam(req, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report: job unknown or still running"})
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	r.Delete("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		if !mgr.Cancel(chi.URLParam(req, "id")) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
