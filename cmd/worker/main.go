package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"uniattend/internal/clock"
	"uniattend/internal/config"
	"uniattend/internal/realtime"
	"uniattend/internal/session"
	"uniattend/internal/store"
)

// Worker runs the expiry sweeper outside the API process. session-ended events
// go over the Redis bus so every API replica relays them to its sockets.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.BusBackend != "redis" {
		log.Fatalf("worker requires BUS_BACKEND=redis, got %q", cfg.BusBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[INFO] shutdown signal received")
		cancel()
	}()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Printf("[WARN] redis not reachable at %s, events will be dropped until it is", cfg.RedisAddr)
	}

	notify := realtime.NewBroadcaster(realtime.NewRedisBus(rdb.Client, cfg.BusChannel))
	sweeper := session.NewSweeper(session.NewRepository(db.Client, db.LockClause()), notify, clock.Real(), cfg.SweepInterval)
	sweeper.Start(ctx)
	log.Printf("[INFO] worker started, sweeping every %s", cfg.SweepInterval)

	<-ctx.Done()
	sweeper.Stop()
	log.Println("[INFO] worker stopped")
}
