package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/server"
	"github.com/bearbait/forestchat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := server.NewConfigFromEnv()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("opening store failed", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer st.Close()

	srv := server.New(cfg, st, logger)
	httpServer := server.CreateHTTPServer(cfg.Port, srv.SetupRoutes())

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go srv.Authority().RunSweeper(sweepCtx, cfg.SweepInterval)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	stopSweeper()
	if err := srv.ShutdownHTTP(httpServer, shutdownTimeout); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("connection shutdown incomplete", zap.Error(err))
	}
	logger.Info("server stopped")
}
