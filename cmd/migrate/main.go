package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"genledger/internal/config"
	"genledger/internal/logger"
	"genledger/internal/repository"

	"go.uber.org/zap"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "overall migration timeout")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-timeout 10m] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, up-by-one, up-to VERSION, down, down-to VERSION, redo, reset, status, version")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	command := args[0]
	log.Info("Starting migration", zap.String("command", command))

	if err := repository.RunMigrations(ctx, cfg.DSN(), log, command, args[1:]...); err != nil {
		log.Error("Migration failed", zap.String("command", command), zap.Error(err))
		cancel()
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("Migration finished successfully", zap.String("command", command))
}
