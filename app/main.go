package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/newsblock/app/api"
	"github.com/lysyi3m/newsblock/app/cache"
	"github.com/lysyi3m/newsblock/app/cfg"
	"github.com/lysyi3m/newsblock/app/database"
	"github.com/lysyi3m/newsblock/app/feed"
	"github.com/lysyi3m/newsblock/app/storage"
	"github.com/lysyi3m/newsblock/app/tasks"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appConfig.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Newsblock server", "version", appConfig.Version)

	db, err := database.NewConnection(appConfig.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appConfig.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appConfig.DBPath, "schema_version", version, "dirty", dirty)

	configCache := feed.NewConfigCache(appConfig.BlocksDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load block configurations", "dir", appConfig.BlocksDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Block configurations loaded", "count", configCache.GetConfigCount())

	httpClient := &http.Client{}
	blobs := storage.NewBlobStore(appConfig.BlobDir, httpClient, appConfig.UserAgent, appConfig.FetchTimeout)
	store := cache.NewStore(appConfig.CacheDir)

	fetcher := feed.NewFetcher(httpClient, feed.NewParser(), appConfig.UserAgent, appConfig.FetchTimeout)
	reconciler := feed.NewReconciler(db, fetcher, configCache, blobs, store)
	renderer := feed.NewRenderer(db, configCache, feed.NewGenerator(), store)

	var locker tasks.SourceLocker = tasks.NoopLocker{}
	if appConfig.SourceLease {
		hostname, _ := os.Hostname()
		holder := fmt.Sprintf("%s-%d", hostname, os.Getpid())
		locker = database.NewLeaseRepository(db, holder)
		slog.Info("Source leases enabled", "holder", holder)
	}

	scheduler, err := tasks.NewScheduler(configCache, db, reconciler, blobs, renderer, locker)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(db, renderer, configCache, scheduler, blobs, appConfig.APIAccessKey)
	server := api.NewServer(handler, appConfig.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appConfig.Port, "base_url", appConfig.BaseUrl)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Newsblock server shutdown complete")
}
