package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/fanmail/internal/api"
	"github.com/ignite/fanmail/internal/bootstrap"
	"github.com/ignite/fanmail/internal/config"
	"github.com/ignite/fanmail/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	embedded := flag.Bool("embedded-worker", false, "run the send worker inside the API process")
	flag.Parse()

	log.Println("Starting fanmail API server...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	bootstrap.ConfigureLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer stack.Close()

	// Without Redis the queue lives in this process, so nobody else can
	// drain it.
	var sendWorker *worker.SendWorker
	if *embedded || stack.Redis == nil {
		sendWorker, err = stack.NewWorker(ctx)
		if err != nil {
			log.Fatalf("Failed to create send worker: %v", err)
		}
		if err := sendWorker.Start(ctx); err != nil {
			log.Fatalf("Failed to start send worker: %v", err)
		}
		log.Println("Embedded send worker started")
	}

	handlers := api.NewHandlers(stack.Sending, stack.Segments, stack.Quota, stack.QuotaKey())
	var health *api.HealthChecker
	if stack.DB != nil {
		health = api.NewHealthChecker(stack.DB, stack.Redis, stack.Queue, 10000)
	} else {
		health = api.NewHealthChecker(nil, stack.Redis, stack.Queue, 10000)
	}
	server := api.NewServer(cfg.Server, handlers, health)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("%v", err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if sendWorker != nil {
		sendWorker.Stop()
	}
	cancel()

	log.Println("Server stopped")
}
