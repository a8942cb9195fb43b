package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/tasknest/internal/chatapi"
	"github.com/ent0n29/tasknest/internal/clock"
	"github.com/ent0n29/tasknest/internal/config"
	"github.com/ent0n29/tasknest/internal/dialog"
	"github.com/ent0n29/tasknest/internal/observability"
	"github.com/ent0n29/tasknest/internal/remind"
	"github.com/ent0n29/tasknest/internal/taskstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := taskstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("task store: in-memory (set DATABASE_URL for postgres)")
	} else {
		log.Printf("task store: postgres")
	}

	clk := clock.System{}
	sessions := dialog.NewMemorySessionStore()
	engine := dialog.NewEngine(store, sessions, clk, metrics, cfg.RemindDefaultHour)

	api := chatapi.New(cfg, engine, store, metrics)
	scheduler := remind.NewScheduler(store, api, clk, metrics, cfg.RemindTickInterval, cfg.RemindWindow)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go scheduler.Run(runCtx)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
