package main

import (
	"flag"
	"fmt"
	"os"

	"expenso/internal/app"
)

func main() {
	defaultServer := envOrDefault("EXPENSO_SERVER", "ws://localhost:8080/ws")
	defaultUser := envOrDefault("EXPENSO_USER", "")

	serverURL := flag.String("server", defaultServer, "WebSocket URL (e.g., ws://localhost:8080/ws)")
	username := flag.String("user", defaultUser, "default username for login prompts")
	flag.Parse()

	cfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
	}

	if err := app.RunClient(cfg); err != nil {
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
