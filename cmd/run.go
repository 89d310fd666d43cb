package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"autoreply/pkg/bot"
	"autoreply/pkg/bus"
	"autoreply/pkg/channel/discord"
	"autoreply/pkg/channel/telegram"
	"autoreply/pkg/config"
	"autoreply/pkg/gateway"
	"autoreply/pkg/logger"
	"autoreply/pkg/metrics"
	"autoreply/pkg/rules"
	"autoreply/pkg/transport"
	"autoreply/pkg/ui/console"
)

type runOptions struct {
	console bool
	start   bool
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the auto-reply bot",
	Long: `Loads the configuration and rule file, serves the HTTP gateway, and connects
to the configured transport when auto_start is set or --start is given.
With --console a terminal dashboard shows the connection state and log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		appLogger, err := newLogger(cfg.Logging, runFlags.console)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := appLogger.With("component", "cmd.run")

		factory, err := transportFactory(cfg, appLogger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Bot starting", "transport", cfg.Bot.Transport, "rules_path", cfg.Bot.RulesPath, "gateway", cfg.Gateway.Addr())
		return runBot(ctx, cfg, factory, runFlags, appLogger)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.console, "console", false, "show the terminal dashboard")
	runCmd.Flags().BoolVar(&runFlags.start, "start", false, "connect immediately even when bot.auto_start is false")
	rootCmd.AddCommand(runCmd)
}

// newLogger keeps log output off the terminal while the dashboard owns it,
// unless a log file is configured.
func newLogger(cfg config.LoggingConfig, consoleMode bool) (*slog.Logger, error) {
	if consoleMode && logger.OutputPath(cfg) == "" {
		return logger.NewWithWriter(cfg, io.Discard)
	}

	return logger.New(cfg)
}

func transportFactory(cfg *config.Config, log *slog.Logger) (transport.Factory, error) {
	switch cfg.Bot.Transport {
	case config.TransportTelegram:
		factory, err := telegram.Factory(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram transport: %w", err)
		}
		return factory, nil
	case config.TransportDiscord:
		factory, err := discord.Factory(cfg.Channels.Discord, log)
		if err != nil {
			return nil, fmt.Errorf("configure discord transport: %w", err)
		}
		return factory, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Bot.Transport)
	}
}

// runBot wires the bot components and blocks until ctx is done or the
// console is closed. Shutdown tears the transport down and waits for
// in-flight sends.
func runBot(ctx context.Context, cfg *config.Config, factory transport.Factory, opts runOptions, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	runLog := log.With("component", "cmd.run")

	fileStore, err := rules.NewFileStore(cfg.Bot.RulesPath, log)
	if err != nil {
		return fmt.Errorf("open rules file: %w", err)
	}
	store, err := rules.NewStore(fileStore, log)
	if err != nil {
		return fmt.Errorf("create rule store: %w", err)
	}

	events := bus.NewMessageBus()
	defer events.Close()
	m := metrics.New()

	ctrl, err := bot.NewController(bot.Options{
		Store:          store,
		Factory:        factory,
		Publisher:      events,
		Metrics:        m,
		ConnectTimeout: cfg.Bot.ConnectTimeout(),
		SendTimeout:    cfg.Bot.SendTimeout(),
		ForwardPrefix:  cfg.Bot.ForwardPrefix,
		Log:            log,
	})
	if err != nil {
		return fmt.Errorf("create bot controller: %w", err)
	}

	svc, err := gateway.NewService(cfg.Gateway, ctrl, events, m, log)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		_ = ctrl.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-ctrl.Done()
		runLog.Info("Bot stopped")
	}()

	if _, err := ctrl.LoadRules(runCtx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if cfg.Bot.AutoStart || opts.start {
		if err := ctrl.Start(runCtx); err != nil {
			return fmt.Errorf("start bot: %w", err)
		}
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := svc.Run(groupCtx); err != nil {
			runLog.Error("Gateway failed", "error", err)
			return err
		}
		return nil
	})
	if opts.console {
		group.Go(func() error {
			// Closing the dashboard ends the process.
			defer cancel()
			return console.Run(groupCtx, ctrl, events)
		})
	}

	return group.Wait()
}
