package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tasktracker/internal/activity"
	"tasktracker/internal/auth"
	"tasktracker/internal/authz"
	"tasktracker/internal/config"
	"tasktracker/internal/logging"
	"tasktracker/internal/notify"
	"tasktracker/internal/server"
	"tasktracker/internal/storage/sqlite"
	"tasktracker/internal/tasks"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	configFlag := flag.String("config", config.DefaultPath(), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		slog.Error("unable to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, closer := logging.New(cfg.LogLevel, cfg.LogFile)
	defer closer.Close()
	logger.Info("task tracker starting", slog.String("db", cfg.DBPath), slog.String("level", cfg.LogLevel))

	store, err := sqlite.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("unable to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	hub := notify.New(store, logger, notify.Options{Buffer: cfg.PushBuffer})
	svc := tasks.NewService(tasks.Deps{
		Store:    store,
		Comments: store,
		Recorder: activity.NewRecorder(store),
		Notifier: hub,
		Guard:    authz.New(authz.DefaultPolicy),
		Logger:   logger,
	})

	srv := server.New(server.Deps{
		Tasks:    svc,
		Hub:      hub,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Store:    store,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: srv.Engine(),
	}
	// Shutdown does not cancel in-flight requests; end event streams so it
	// need not wait them out.
	httpServer.RegisterOnShutdown(hub.CloseAll)

	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}
