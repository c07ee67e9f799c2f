package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirfaizal/ai-finance-assistant/internal/cli"
	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/logger"
)

// version is overridden at link time for releases
var version = cli.Version

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configDir   string
	metricsAddr string
	verbose     bool

	cfg     *config.Config
	prompts *config.PromptConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "finmate",
		Short: "FinMate - your AI financial education assistant",
		Long: `FinMate answers personal-finance questions with a team of specialists.

It can:
  • Explain taxes, investing concepts and market moves
  • Plan savings goals and budgets
  • Run a paper-trading portfolio with live quotes
  • Summarise financial news
  • Remember the conversation across turns`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			return runChat(cmd, opts, session)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "configuration directory (default ./config)")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "mirror logs to stderr at debug level")
	rootCmd.Flags().String("session", "", "resume this session id")

	rootCmd.AddCommand(
		newAskCmd(opts),
		newTradeCmd(opts),
		newHistoryCmd(opts),
		newSessionsCmd(opts),
		newKnowledgeCmd(opts),
		newServeMetricsCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads configuration and starts logging
func (o *globalOptions) load() error {
	if o.configDir != "" {
		config.SetConfigDir(o.configDir)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	prompts, err := config.LoadPromptConfig()
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	o.cfg, o.prompts = cfg, prompts

	level := logger.ParseLevel(cfg.Logging.Level)
	if o.verbose {
		level = slog.LevelDebug
	}
	if err := logger.Init(logger.Config{
		LogDir:     config.LogDir(),
		Level:      level,
		MaxDays:    cfg.Logging.MaxDays,
		ConsoleOut: cfg.Logging.Console || o.verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	logConfigInfo(cfg)
	return nil
}

// openApp builds the application and, when requested, the metrics endpoint
func (o *globalOptions) openApp(cmd *cobra.Command, extra ...cli.Option) (*cli.App, error) {
	app, err := cli.NewApp(cmd.Context(), o.cfg, o.prompts, extra...)
	if err != nil {
		return nil, err
	}
	addr := o.metricsAddr
	if addr == "" {
		addr = o.cfg.Metrics.Addr
	}
	if addr != "" {
		go func() {
			if err := app.ServeMetrics(cmd.Context(), addr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}
	return app, nil
}

func runChat(cmd *cobra.Command, opts *globalOptions, session string) error {
	if !opts.cfg.IsAPIKeyConfigured() {
		path, _ := config.SecretsPath()
		return fmt.Errorf("no API key configured for %s; add it to %s", opts.cfg.Model.Provider, path)
	}
	out := cmd.OutOrStdout()
	app, err := opts.openApp(cmd, cli.WithToolCallHandler(cli.ToolCallPrinter(out)))
	if err != nil {
		return err
	}
	defer app.Close()

	return cli.NewREPL(app, session, out).Run(cmd.Context())
}

// logConfigInfo logs the effective configuration without secrets
func logConfigInfo(cfg *config.Config) {
	logger.Info("configuration loaded",
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Model,
		"base_url", cfg.Model.BaseURL,
		"api_key_set", cfg.IsAPIKeyConfigured(),
		"db_path", cfg.Storage.DBPath,
		"storage_driver", cfg.Storage.Driver,
		"market_provider", cfg.Market.Provider,
		"web_search_provider", cfg.WebSearch.Provider,
		"knowledge_enabled", cfg.Knowledge.Enabled,
	)
}
