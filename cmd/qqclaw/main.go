// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhufengning/qqclaw/pkg/agent"
	"github.com/zhufengning/qqclaw/pkg/bus"
	"github.com/zhufengning/qqclaw/pkg/channels"
	"github.com/zhufengning/qqclaw/pkg/config"
	"github.com/zhufengning/qqclaw/pkg/cron"
	"github.com/zhufengning/qqclaw/pkg/logger"
	"github.com/zhufengning/qqclaw/pkg/onebot"
	"github.com/zhufengning/qqclaw/pkg/session"
)

const version = "0.1.0"

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "qqclaw",
		Short:         fmt.Sprintf("qqclaw - OneBot v11 bridge v%s", version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := loadEnvFile(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.qqclaw/config.json)")

	cmd.AddCommand(
		newGatewayCommand(&configPath),
		newStatusCommand(&configPath),
		newConsoleCommand(&configPath),
		newVersionCommand(),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Show version information",
		Args:    cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("qqclaw v%s\n", version)
		},
	}
}

func newGatewayCommand(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Aliases: []string{"g"},
		Short:   "Connect every enabled account and relay messages",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return gatewayCmd(*configPath, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show configured accounts",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd(*configPath, probe)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Connect to each account and query get_status")
	return cmd
}

func getConfigPath(override string) string {
	if override != "" {
		return override
	}
	if p := os.Getenv("QQCLAW_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".qqclaw", "config.json")
}

func loadConfig(override string) (*config.Config, error) {
	return config.LoadConfig(getConfigPath(override))
}

func setupLogging(cfg *config.Config, debug bool) {
	if level, ok := logger.ParseLevel(cfg.Logging.Level); ok {
		logger.SetLevel(level)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}
	if cfg.Logging.File != "" {
		if err := logger.EnableFileLogging(cfg.Logging.File); err != nil {
			fmt.Printf("Warning: file logging disabled: %v\n", err)
		}
	}
}

func gatewayCmd(configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg, debug)

	msgBus := bus.NewMessageBus()
	sessions := session.NewSessionManager(cfg.SessionPath())
	relay := agent.NewRelayLoop(cfg, msgBus, sessions)

	channelManager, err := channels.NewManager(cfg, msgBus, sessions)
	if err != nil {
		return fmt.Errorf("creating channel manager: %w", err)
	}

	maintenance := cron.NewMaintenance()
	for _, ch := range channelManager.OneBotChannels() {
		if _, err := maintenance.Register(ch); err != nil {
			logger.ErrorCF("cron", "Failed to register maintenance jobs", map[string]any{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
		}
	}

	enabledChannels := channelManager.GetEnabledChannels()
	if len(enabledChannels) > 0 {
		fmt.Printf("Channels enabled: %v\n", enabledChannels)
	} else {
		fmt.Println("Warning: No channels enabled")
	}
	fmt.Println("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	if err := maintenance.Start(ctx); err != nil {
		fmt.Printf("Error starting cron service: %v\n", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	relay.Stop()
	maintenance.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := channelManager.StopAll(shutdownCtx); err != nil {
		logger.ErrorCF("channels", "Error stopping channels", map[string]any{
			"error": err.Error(),
		})
	}
	msgBus.Close()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Gateway stopped")
	return nil
}

func statusCmd(configPath string, probe bool) error {
	path := getConfigPath(configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("qqclaw Status")
	fmt.Println()
	if _, err := os.Stat(path); err == nil {
		fmt.Println("Config:", path, "ok")
	} else {
		fmt.Println("Config:", path, "missing")
	}
	fmt.Println("Sessions:", cfg.SessionPath())
	if cfg.Relay.WebhookURL != "" {
		fmt.Println("Relay webhook:", cfg.Relay.WebhookURL)
	} else {
		fmt.Println("Relay webhook: not set")
	}

	accounts, err := cfg.ResolveAccounts()
	if err != nil {
		return err
	}
	for _, account := range accounts {
		ob := account.OneBot
		state := "disabled"
		if ob.Enabled {
			state = "enabled"
		}
		fmt.Printf("\n[%s] %s\n", channels.ChannelName(account.ID), state)
		fmt.Printf("  ws_url: %s\n  http_url: %s\n  reverse_ws_port: %d\n", ob.WSUrl, ob.HTTPUrl, ob.ReverseWSPort)
		fmt.Printf("  reaction_emoji: %s  require_mention: %v  admins: %d\n", ob.ReactionEmoji, ob.RequireMention, len(ob.Admins))

		if probe && ob.Enabled {
			probeAccount(account)
		}
	}
	return nil
}

func probeAccount(account config.AccountConfig) {
	transport, err := channels.NewTransport(account)
	if err != nil {
		fmt.Printf("  probe: %v\n", err)
		return
	}
	defer transport.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := transport.Connect(ctx); err != nil {
		fmt.Printf("  probe: %v\n", err)
		return
	}

	api := onebot.NewAPI(transport)
	info, err := api.GetLoginInfo(ctx)
	if err != nil {
		fmt.Printf("  probe: get_login_info failed: %v\n", err)
		return
	}
	status, err := api.GetStatus(ctx)
	if err != nil {
		fmt.Printf("  probe: get_status failed: %v\n", err)
		return
	}
	data, _ := json.Marshal(map[string]any{
		"self_id":  info.UserID,
		"nickname": info.Nickname,
		"online":   status.Online,
		"good":     status.Good,
	})
	fmt.Printf("  probe: %s\n", data)
}
