package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/fanmail/internal/bootstrap"
	"github.com/ignite/fanmail/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	log.Println("Starting fanmail send worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Redis.URL == "" {
		log.Fatal("REDIS_URL is required for a standalone worker; use cmd/server -embedded-worker otherwise")
	}
	bootstrap.ConfigureLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer stack.Close()

	sendWorker, err := stack.NewWorker(ctx)
	if err != nil {
		log.Fatalf("Failed to create send worker: %v", err)
	}
	if err := sendWorker.Start(ctx); err != nil {
		log.Fatalf("Failed to start send worker: %v", err)
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := sendWorker.Stats()
				depth, err := stack.Queue.Depth(ctx)
				if err != nil {
					log.Printf("Worker heartbeat - queue depth unavailable: %v", err)
					continue
				}
				log.Printf("Worker heartbeat - %s batches=%d sent=%d failed=%d deferred=%d ready=%d delayed=%d processing=%d",
					st.WorkerID, st.Batches, st.Sent, st.Failed, st.Deferred, depth.Ready, depth.Delayed, depth.Processing)
			}
		}
	}()

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	sendWorker.Stop()
	cancel()

	log.Println("Worker stopped")
}
