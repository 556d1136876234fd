package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cobrance/lucia/pkg/batch"
	"github.com/cobrance/lucia/pkg/channels"
	"github.com/cobrance/lucia/pkg/cobrance"
	"github.com/cobrance/lucia/pkg/config"
	"github.com/cobrance/lucia/pkg/gateway"
	"github.com/cobrance/lucia/pkg/logger"
	"github.com/cobrance/lucia/pkg/negotiation"
	"github.com/cobrance/lucia/pkg/providers"
	"github.com/cobrance/lucia/pkg/sessions"
)

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	provider, err := providers.NewChatCompletions(providers.Config{
		APIKey:      cfg.Provider.APIKey,
		APIBase:     cfg.Provider.APIBase,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		return err
	}

	source := buildOfferSource(cfg)

	store, err := sessions.New(sessions.Config{
		Backend:    cfg.Sessions.Backend,
		SQLitePath: cfg.SQLitePathExpanded(),
		RedisAddr:  cfg.Sessions.RedisAddr,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	newEngine := func() *negotiation.Orchestrator {
		return negotiation.NewOrchestrator(provider, source)
	}

	coordinator := batch.NewCoordinator(
		time.Duration(cfg.Batching.WindowMS)*time.Millisecond,
		cfg.Batching.MaxSize,
		gateway.EngineProcessor(newEngine),
	)

	srv := gateway.NewServer(cfg.Gateway, store, coordinator, newEngine)
	srv.StartJanitor()

	var discord *channels.DiscordChannel
	if cfg.Channels.Discord.Token != "" {
		discord, err = channels.NewDiscordChannel(cfg.Channels.Discord, channelResponder(store, coordinator))
		if err != nil {
			return err
		}
		if err := discord.Start(context.Background()); err != nil {
			return err
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
		logger.InfoC("lucia", "shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if discord != nil {
		if err := discord.Stop(ctx); err != nil {
			logger.WarnCF("lucia", "discord shutdown failed", map[string]any{"error": err})
		}
	}
	return srv.Shutdown(ctx)
}

// buildOfferSource prefers the Cobrance API when credentials are
// configured and falls back to the local calculator otherwise, which is
// the standalone demo mode.
func buildOfferSource(cfg *config.Config) negotiation.OfferSource {
	if cfg.Cobrance.BaseURL != "" && cfg.Cobrance.Username != "" {
		logger.InfoCF("lucia", "using Cobrance API offer source", map[string]any{"base_url": cfg.Cobrance.BaseURL})
		return cobrance.NewClient(cobrance.Config{
			BaseURL:        cfg.Cobrance.BaseURL,
			Username:       cfg.Cobrance.Username,
			Password:       cfg.Cobrance.Password,
			InsecureTLS:    cfg.Cobrance.InsecureTLS,
			TimeoutSeconds: cfg.Cobrance.TimeoutSeconds,
		})
	}

	logger.InfoC("lucia", "using calculator offer source")
	return negotiation.NewCalculatorSource(cfg.Negotiation.ToAgreement())
}

// channelResponder routes channel messages through the same debounce
// coordinator as the batched HTTP endpoint.
func channelResponder(store sessions.Store, coordinator *batch.Coordinator) channels.Responder {
	return func(ctx context.Context, sessionID, message string) (string, error) {
		snap, _, err := store.Get(ctx, sessionID)
		if err != nil {
			return "", err
		}

		res, err := coordinator.Enqueue(ctx, sessionID, message, snap)
		if err != nil {
			return "", err
		}

		if err := store.Put(ctx, sessionID, res.Snapshot); err != nil {
			logger.WarnCF("lucia", "session save failed", map[string]any{"session": sessionID, "error": err})
		}
		return res.Outcome.Reply, nil
	}
}
