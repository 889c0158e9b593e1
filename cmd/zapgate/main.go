package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zapgate/internal/api"
	"zapgate/internal/config"
	"zapgate/internal/dedup"
	"zapgate/internal/profilecache"
	"zapgate/internal/session"
	"zapgate/internal/wa"
	"zapgate/internal/webhook"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "zapgate",
		Short: "zapgate: multi-session WhatsApp gateway",
		Long:  "zapgate manages multiple WhatsApp sessions and forwards inbound messages and lifecycle events to configured webhooks.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.zapgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and credential directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			authDir := config.ExpandPath(cfg.General.AuthDir)
			if err := os.MkdirAll(authDir, 0o700); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "authDir", authDir)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (sessions + control API)",
		Long:  "Recovers sessions from the credential directory, starts the control API, and runs until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	}))

	if err := os.MkdirAll(cfg.General.AuthDir, 0o700); err != nil {
		return fmt.Errorf("auth dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dedupCache := dedup.New(time.Duration(cfg.Dedup.TTLSeconds) * time.Second)
	go dedupCache.Run(ctx)

	profiles := profilecache.New(
		time.Duration(cfg.Media.ProfileTTLHours)*time.Hour,
		cfg.Media.MaxAvatarBytes,
	)

	dispatcher := webhook.NewDispatcher(webhook.Config{
		EventsURL:     cfg.Webhooks.EventsURL,
		MessagesURL:   cfg.Webhooks.MessagesURL,
		AutomationURL: cfg.Webhooks.AutomationURL,
		Secret:        cfg.Webhooks.Secret,
		Timeout:       time.Duration(cfg.Webhooks.TimeoutSeconds) * time.Second,
		Throttle:      time.Duration(cfg.Webhooks.ThrottleMS) * time.Millisecond,
		Logger:        logger,
	})

	dialer := wa.NewDialer(wa.DialerConfig{
		Logger:         logger,
		PrintQR:        cfg.General.PrintQR,
		MaxAvatarBytes: cfg.Media.MaxAvatarBytes,
	})

	manager := session.NewManager(session.Config{
		Dialer:     dialer,
		Notifier:   dispatcher,
		Dedup:      dedupCache,
		Profiles:   profiles,
		AuthDir:    cfg.General.AuthDir,
		MaxRetries: cfg.Session.MaxRetries,
		RetryDelay: time.Duration(cfg.Session.RetryDelaySeconds) * time.Second,
		Logger:     logger,
	})

	if n := manager.Recover(ctx); n > 0 {
		logger.Info("recovered sessions will reconnect with stored credentials", "count", n)
	}

	server := api.NewServer(api.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		APIKey:         cfg.Server.APIKey,
		MetricsEnabled: cfg.Metrics.Enabled,
		Logger:         logger,
	}, manager, dispatcher)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
	}
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Stop()
		manager.Shutdown()
		dispatcher.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			}

			url := fmt.Sprintf("http://%s:%d/status", cfg.Server.Host, cfg.Server.Port)
			req, err := http.NewRequest(http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			if cfg.Server.APIKey != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.Server.APIKey)
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				logger.Info("gateway", "running", false, "url", url)
				return nil
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			var pretty any
			if err := json.Unmarshal(body, &pretty); err == nil {
				body, _ = json.MarshalIndent(pretty, "", "  ")
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. session.maxRetries)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. session.maxRetries 3)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("zapgate " + version)
		},
	}
}
