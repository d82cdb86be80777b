package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pitchdesk/api/internal/app"
	"pitchdesk/api/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg := config.Load()

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		defer rotator.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	provider := config.NewProvider(cfg)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if cfg.ConfigFile != "" {
		go func() {
			if err := provider.Watch(watchCtx); err != nil {
				log.Printf("config watch stopped: %v", err)
			}
		}()
	}

	runtime, err := app.Wire(provider, app.WireOptions{BackupLoop: true, Reindex: true})
	if err != nil {
		log.Fatalf("wiring failed: %v", err)
	}
	defer runtime.Close()

	httpServer := app.NewHTTPServer(runtime.Service, cfg.CORSOrigin, cfg.APIToken)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Proposal API listening on %s (data dir %s)", cfg.Addr, cfg.DataDir)
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
