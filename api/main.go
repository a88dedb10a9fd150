package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/wiki-offline/internal/config"
	"github.com/DeafMist/wiki-offline/internal/logger"
	"github.com/DeafMist/wiki-offline/internal/search"
	"github.com/DeafMist/wiki-offline/internal/store"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	mode, err := store.ParseMode(cfg.Backend)
	if err != nil {
		log.Error("store backend", slog.Any("err", err))
		os.Exit(1)
	}
	opened, err := store.Open(ctx, store.Options{
		Mode:       mode,
		CorpusPath: cfg.CorpusPath(),
		IndexPath:  cfg.IndexPath(),
		Logger:     log,
	})
	if err != nil {
		log.Error("open content store", slog.Any("err", err))
		os.Exit(1)
	}
	defer opened.Close()

	if opened.Index == nil {
		log.Warn("no committed index, search disabled", slog.String("index", cfg.IndexPath()))
	}

	srv := &server{
		log:    log,
		cfg:    cfg,
		store:  opened.Store,
		search: search.New(opened.Index, opened.Store, search.Options{TitleBoost: cfg.TitleBoost, Logger: log}),
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr), slog.String("mode", string(opened.Store.Mode())))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
