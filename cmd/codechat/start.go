package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"codechat/internal/brief"
	"codechat/internal/claude"
	"codechat/internal/config"
	"codechat/internal/conversation"
	"codechat/internal/logging"
	"codechat/internal/memory"
	"codechat/internal/state"
	"codechat/internal/telegram"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the codechat bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath)
		},
	}

	defaultConfig := "codechat.yaml"
	if home, err := os.UserHomeDir(); err == nil {
		defaultConfig = filepath.Join(home, ".codechat", "config.yaml")
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to config file")
	return cmd
}

func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logging.WithComponent("main")

	store, err := state.Load(cfg.StateFilePath())
	if err != nil {
		return err
	}

	history, err := memory.NewStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	projects := make([]conversation.ProjectOption, 0, len(cfg.Projects))
	for _, proj := range cfg.Projects {
		projects = append(projects, conversation.ProjectOption{Name: proj.Name, Path: proj.Path})
	}

	client := telegram.NewClient(cfg.Telegram.BotToken)
	messenger := telegram.NewMessenger(client)

	controller := conversation.NewController(&conversation.Config{
		Adapter:        messenger,
		Store:          store,
		Resolver:       state.NewResolver(store, &claude.FileHistory{}),
		History:        history,
		Projects:       projects,
		ClaudeCommand:  cfg.Claude.Command,
		UpdateInterval: cfg.Conversation.UpdateIntervalDuration(),
		RetryTTL:       cfg.Conversation.RetryTTLDuration(),
	})
	controller.Start()
	defer controller.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := telegram.NewTransport(client, controller, cfg.Telegram.AllowedIDs)
	transport.StartPolling(ctx)
	defer transport.Stop()

	var scheduler *cron.Cron
	if cfg.Brief.Enabled {
		daily := brief.New(history, messenger, cfg.Brief.ChatID)
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(cfg.Brief.Schedule, daily.Run); err != nil {
			return fmt.Errorf("invalid brief schedule %q: %w", cfg.Brief.Schedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Info("Daily brief scheduled", slog.String("schedule", cfg.Brief.Schedule))
	}

	log.Info("codechat started",
		slog.Int("projects", len(projects)),
		slog.String("storage", cfg.Storage.Path),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", slog.String("signal", sig.String()))
	cancel()
	return nil
}
