package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hamzalamin/qatrat-chat-core/internal/config"
	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
	"github.com/hamzalamin/qatrat-chat-core/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCfg := cfg.Log
	logCfg.ServiceName = "chat-relay"
	logx.Init(logCfg)
	logger := logx.L()

	// Prefer Redis; fall back to memory for local development
	// without one.
	var store relay.Store
	redisStore, err := relay.NewRedisStore(cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory store")
		store = relay.NewMemoryStore()
	} else {
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
		store = redisStore
	}
	defer store.Close()

	verifier := relay.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)

	hub := relay.NewHub()
	go hub.Run()

	service := relay.NewService(hub, store)
	wsHandler := relay.NewHandler(hub, service, verifier, cfg.WebSocket)
	restHandler := relay.NewRESTHandler(store, verifier, cfg.Relay.HistoryLimit)

	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)
	restHandler.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("chat relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("chat relay stopped")
}
