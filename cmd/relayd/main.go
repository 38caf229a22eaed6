package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/InsulaLabs/relay/auth"
	"github.com/InsulaLabs/relay/config"
	"github.com/InsulaLabs/relay/core"
	"github.com/InsulaLabs/relay/hub"
	"github.com/InsulaLabs/relay/pubsub"
	"github.com/InsulaLabs/relay/service/chat"
)

func main() {
	configPath := flag.String("config", "relay.yaml", "path to the relay config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL(), cfg.Auth.ConnectionTokenTTL())
	if err != nil {
		logger.Error("Failed to build token service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := chat.NewMemStore()
	h := hub.New(cfg.Sessions.EventChannelSize)

	broker, err := core.New(ctx, logger, cfg, tokens, h, chat.NewMembershipAuthorizer(store, logger))
	if err != nil {
		logger.Error("Failed to build broker", "error", err)
		os.Exit(1)
	}

	registry := pubsub.NewRegistry(func() pubsub.Publisher {
		return pubsub.NewLocal(h, logger)
	})

	svc := chat.New(logger, store, registry.Publisher(), tokens)
	if err := svc.Register(broker.AddHandler); err != nil {
		logger.Error("Failed to mount chat routes", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting relay", "binding", cfg.HttpBinding, "transport", cfg.Transport)
	broker.Run()
}
