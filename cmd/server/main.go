package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"expenso/internal/app"
)

func main() {
	addr := flag.String("addr", envOrDefault("EXPENSO_ADDR", ":8080"), "server listen address")
	wsPath := flag.String("ws-path", envOrDefault("EXPENSO_WS_PATH", "/ws"), "websocket path")
	db := flag.String("db", envOrDefault("EXPENSO_DB_PATH", ""), "sqlite database path")
	jwtSecret := flag.String("jwt-secret", os.Getenv("EXPENSO_JWT_SECRET"), "jwt signing secret")
	flag.Parse()

	cfg := app.ServerConfig{
		Addr:      *addr,
		WSPath:    app.NormalizeWSPath(*wsPath),
		DBPath:    *db,
		JWTSecret: *jwtSecret,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Expenso server listening on %s (ws path %s, db %s)", handle.Addr(), cfg.WSPath, cfg.DBPath)
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
