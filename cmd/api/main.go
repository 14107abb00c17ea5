package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tripmap/api/internal/app"
	"tripmap/api/internal/catalog"
	"tripmap/api/internal/config"
	"tripmap/api/internal/notify"
	"tripmap/api/internal/search"
	"tripmap/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	cat, err := catalog.Load(cfg.PlacesPath)
	if err != nil {
		log.Fatalf("place catalog failed to load: %v", err)
	}
	log.Printf("Loaded %d places from %s", len(cat.Places), cfg.PlacesPath)

	dataStore := store.NewPostgresStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		if err := meiliClient.IndexCatalog(cat); err != nil {
			log.Printf("WARNING: meilisearch indexing failed, memory search will serve: %v", err)
		}
	}
	searchService := search.NewService(meiliClient, search.NewMemory(cat))

	var notifier *notify.Notifier
	if strings.TrimSpace(cfg.RedisURL) != "" {
		notifier, err = notify.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer notifier.Close()
		log.Printf("Change notifications enabled via Redis")
	} else {
		log.Printf("WARNING: REDIS_URL not set, change notifications disabled")
	}

	var service *app.Service
	if notifier != nil {
		service = app.New(cfg, dataStore, notifier, cat, searchService)
	} else {
		service = app.New(cfg, dataStore, nil, cat, searchService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the events route holds its response open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Tripmap API listening on %s", cfg.Addr)
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
