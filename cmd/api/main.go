package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"uniattend/internal/bootstrap"
	"uniattend/internal/clock"
	"uniattend/internal/config"
	"uniattend/internal/handler"
	"uniattend/internal/realtime"
	"uniattend/internal/session"
	"uniattend/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		bus realtime.Bus
		rdb *store.Redis
	)
	if cfg.BusBackend == "redis" {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		bus = realtime.NewRedisBus(rdb.Client, cfg.BusChannel)
	} else {
		bus = realtime.NewInMemory(256)
	}

	hub := realtime.NewHub()
	go hub.Run(ctx, bus)
	notify := realtime.NewBroadcaster(bus)
	clk := clock.Real()

	if _, err := bootstrap.FromConfig(ctx, db, cfg, clk); err != nil {
		return err
	}

	deps := handler.NewDeps(cfg, db, rdb, notify, hub, clk)

	var sweeper *session.Sweeper
	if cfg.SweeperEnabled {
		sweeper = session.NewSweeper(deps.Sessions.Repo(), notify, clk, cfg.SweepInterval)
		sweeper.Start(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[INFO] starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[INFO] shutting down server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] server forced shutdown: %v", err)
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	cancel()

	log.Println("[INFO] server exited")
	return nil
}
