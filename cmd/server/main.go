package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"skillhub/internal/app"
)

func main() {
	cfg := app.LoadServerConfig()

	addr := flag.String("addr", cfg.Addr, "server listen address")
	wsPath := flag.String("ws-path", cfg.WSPath, "websocket presence path")
	dbPath := flag.String("db", cfg.DBPath, "sqlite database path")
	flag.Parse()
	cfg.Addr = *addr
	cfg.WSPath = app.NormalizeWSPath(*wsPath)
	cfg.DBPath = *dbPath

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("server failed to start")
	}
	logger.Info().
		Str("addr", handle.Addr()).
		Str("ws_path", cfg.WSPath).
		Str("env", cfg.Env).
		Msg("skillhub presence server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := handle.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	if err := handle.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
