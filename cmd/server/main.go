// Package main runs the tool catalog API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/acilabs/toolcatalog/internal/app/runtime"
	"github.com/acilabs/toolcatalog/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	envFile := flag.String("env", "", "optional .env file loaded before configuration")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	application, err := runtime.NewApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise application: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := application.Logger()
	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("server failed")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
	log.Info("server stopped")
}
