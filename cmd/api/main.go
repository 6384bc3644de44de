package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"clausemark/api/internal/app"
	"clausemark/api/internal/cache"
	"clausemark/api/internal/config"
	"clausemark/api/internal/docrepo"
	"clausemark/api/internal/logger"
	"clausemark/api/internal/search"
	"clausemark/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Configure(cfg.LogLevel, cfg.LogJSON)
	ctx := context.Background()
	log := logger.For(ctx)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	log.WithField("applied", len(applied)).Info("migrations up to date")

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create contract repos dir")
	}

	dataStore := store.NewPostgresStore(db)
	docs := docrepo.New(cfg.ReposDir)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAllFromPG(ctx)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		commentCache, err := cache.NewRedisStore(cfg.RedisURL, cfg.CommentCacheTTL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer commentCache.Close()
		log.WithField("ttl", cfg.CommentCacheTTL).Info("caching comment lists in redis")
		service = app.NewWithCache(cfg, dataStore, commentCache, docs, searchService)
	} else {
		service = app.New(cfg, dataStore, docs, searchService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigins...)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("clausemark API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithFields(logrus.Fields{"signal": sig.String()}).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
