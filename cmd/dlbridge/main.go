package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"dlbridge/internal/config"
	"dlbridge/internal/connector"
	"dlbridge/internal/domain"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "dlbridge",
		Short: "dlbridge: Direct Line activity bridge",
		Long:  "dlbridge bridges a conversational test harness and a Direct Line bot: normalized inbound activities, ordered outbound sends.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.dlbridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig loads the config from --config, the default path or the
// environment, in that order of preference.
func resolveConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	logger.Warn("config file not loaded, using environment", "path", path, "err", err)
	return config.FromEnv()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			path := config.DefaultConfigPath()
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", path)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Relay stdin lines to the bot and print its replies",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := connector.New(cfg, logger)
	if err := conn.Validate(); err != nil {
		return err
	}
	if err := conn.Build(); err != nil {
		return err
	}

	messages, err := conn.Start(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer conn.Clean()

	go func() {
		for msg := range messages {
			printInbound(msg)
		}
	}()

	logger.Info("session started, type a message (Ctrl+C to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := conn.UserSays(ctx, domain.OutboundMessage{MessageText: domain.Text(line)}); err != nil {
			logger.Error("send failed", "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func printInbound(msg domain.InboundMessage) {
	if msg.MessageText != nil {
		fmt.Printf("%s> %s\n", msg.Sender, *msg.MessageText)
	}
	for _, c := range msg.Cards {
		fmt.Printf("%s> [card] %s\n", msg.Sender, strings.Join(c.Text, " | "))
	}
	for _, m := range msg.Media {
		fmt.Printf("%s> [media %s] %s\n", msg.Sender, m.MimeType, m.URI)
	}
	for _, b := range msg.Buttons {
		fmt.Printf("%s> [button] %s\n", msg.Sender, b.Text)
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate capabilities and probe the transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger.Info("capabilities ok", "domain", cfg.Domain, "webSocket", cfg.WebSocket)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn := connector.New(cfg, logger)
			if err := conn.Build(); err != nil {
				return err
			}
			if _, err := conn.Start(ctx); err != nil {
				return fmt.Errorf("handshake failed: %w", err)
			}
			conn.Clean()
			logger.Info("handshake ok")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func applyLogLevel(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
