package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"moodlog/api/internal/app"
	"moodlog/api/internal/auth"
	"moodlog/api/internal/config"
	"moodlog/api/internal/i18n"
	"moodlog/api/internal/logger"
	"moodlog/api/internal/session"
	"moodlog/api/internal/store"
	"moodlog/api/internal/templates"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logr, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	ctx := context.Background()

	var eventStore store.EventStore
	switch cfg.Store.Backend {
	case config.BackendPostgREST:
		logr.Info("using PostgREST backend", "url", cfg.PostgREST.URL)
		eventStore = store.NewPostgRESTStore(store.PostgRESTConfig{
			URL:     cfg.PostgREST.URL,
			AnonKey: cfg.PostgREST.AnonKey,
			Timeout: cfg.PostgREST.Timeout,
		})
	default:
		db, err := store.Open(ctx, store.PoolConfig{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
		if err != nil {
			logr.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.Database.MigrateOnStart {
			if err := store.ApplyMigrations(ctx, db); err != nil {
				logr.Error("migrations failed", "error", err)
				os.Exit(1)
			}
		}
		eventStore = store.NewPostgresStore(db)
	}

	var lookups templates.LookupStore = eventStore
	var revocations app.Revocations
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		logr.Info("using Redis for token revocation and lookup caching")
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logr.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		revocations = redisStore
		cache := session.NewLookupCache(eventStore, redisStore.Client(), cfg.Redis.LookupTTL, logr)
		// Migrations may have reseeded the lookup tables.
		if err := cache.Invalidate(ctx); err != nil {
			logr.Warn("lookup cache invalidation failed", "error", err)
		}
		lookups = cache
	}

	bundle, err := i18n.Load(cfg.I18n.DefaultLocale)
	if err != nil {
		logr.Error("translations failed to load", "error", err)
		os.Exit(1)
	}
	catalog, err := loadCatalog(cfg.Templates.File)
	if err != nil {
		logr.Error("template catalog failed to load", "error", err)
		os.Exit(1)
	}

	service, err := app.NewService(app.Options{
		Store:       eventStore,
		Lookups:     lookups,
		Catalog:     catalog,
		Verifier:    auth.NewVerifier(cfg.Auth.JWTSecret),
		Revocations: revocations,
		I18n:        bundle,
		Logger:      logr,
	})
	if err != nil {
		logr.Error("service setup failed", "error", err)
		os.Exit(1)
	}

	httpServer := app.NewHTTPServer(service, cfg.HTTP.CORSOrigin, cfg.Auth.CookieName)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	go func() {
		logr.Info("moodlog API listening", "addr", cfg.HTTP.Addr, "backend", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Warn("shutdown error", "error", err)
	}
}

func loadCatalog(path string) (*templates.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return templates.DefaultCatalog()
	}
	return templates.LoadCatalog(path)
}
