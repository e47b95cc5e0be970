package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"missionsync/internal/app"
	"missionsync/internal/bootstrap"
	"missionsync/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("MISSIONSYNC_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg := config.Load()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("config failed: %v", err)
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		log.Fatalf("config failed: %v", err)
	}

	ctx := context.Background()
	rt, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer rt.Close()

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		go func() {
			count, err := rt.Service.ReindexAll(context.Background())
			if err != nil {
				log.Printf("WARNING: initial reindex failed: %v", err)
				return
			}
			log.Printf("Reindexed %d missions", count)
		}()
	}

	httpServer := app.NewHTTPServer(rt.Service, cfg.JWTSecret, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("missionsync API listening on %s (store=%s)", cfg.Addr, cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
