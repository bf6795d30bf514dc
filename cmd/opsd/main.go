package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vibeway/renderfarm/pkg/config"
	"github.com/vibeway/renderfarm/pkg/logging"
	"github.com/vibeway/renderfarm/pkg/nodepool"
	"github.com/vibeway/renderfarm/pkg/provider"
	"github.com/vibeway/renderfarm/pkg/runlog"
	"github.com/vibeway/renderfarm/pkg/telemetry"
)

type server struct {
	pool   *nodepool.Manager
	ledger runlog.Ledger
	log    logging.Logger
}

func main() {
	log := logging.New("opsd")

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "opsd")
	defer func() { _ = shutdownTracer(context.Background()) }()

	ledger, closeLedger := openLedger(cfg, log)
	defer closeLedger()

	api := provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey)
	srv := &server{
		pool:   nodepool.NewManager(api, nodepool.Options{ProxyDomain: cfg.ProxyDomain}, log),
		ledger: ledger,
		log:    log,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	router.Route("/v1", func(r chi.Router) {
		r.Get("/nodes", srv.handleListNodes)
		r.Post("/nodes/{nodeID}/release", srv.handleRelease)
		r.Post("/sweep", srv.handleSweep)
		r.Get("/runs", srv.handleListRuns)
	})

	httpSrv := &http.Server{
		Addr:    cfg.OpsListenAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("opsd shutdown error", "error", err)
		}
	}()

	log.Info("opsd listening", "addr", cfg.OpsListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("opsd listen failed", "error", err)
	}
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.pool.ListActive(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, map[string]any{"nodes": nodes}, http.StatusOK)
}

func (s *server) handleRelease(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	terminate, _ := strconv.ParseBool(r.URL.Query().Get("terminate"))

	res := s.pool.Release(r.Context(), nodeID, terminate)
	if !res.Success {
		respondError(w, http.StatusBadGateway, res.Err.Error())
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *server) handleSweep(w http.ResponseWriter, r *http.Request) {
	terminate, _ := strconv.ParseBool(r.URL.Query().Get("terminate"))
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	report, err := s.pool.CloseAll(r.Context(), terminate, all)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, report, http.StatusOK)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.ledger.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{"runs": runs}, http.StatusOK)
}

func openLedger(cfg config.Config, log logging.Logger) (runlog.Ledger, func()) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := runlog.NewPostgresLedger(cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres ledger init failed", "error", err)
			return runlog.Nop{}, func() {}
		}
		return pg, func() { _ = pg.Close() }
	case cfg.RedisURL != "":
		rl, err := runlog.NewRedisLedger(cfg.RedisURL)
		if err != nil {
			log.Error("redis ledger init failed", "error", err)
			return runlog.Nop{}, func() {}
		}
		return rl, func() { _ = rl.Close() }
	default:
		return runlog.NewMemLedger(), func() {}
	}
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
