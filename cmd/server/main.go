// agentsim serves the agent invocation API: token-authorized sessions
// with LLM-backed agents that call MCP, HTTP and other-agent tools, plus
// the admin API for agents, users, tokens and audit logs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/config"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/telemetry"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/server"
)

// Build-time version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCommand(opts)

	root := &cobra.Command{
		Use:           "agentsim",
		Short:         "Agent invocation service",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand means serve.
		RunE: serve.RunE,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a YAML config file (or AGENTSIM_CONFIG)")
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(
		serve,
		newMigrateCommand(opts),
		newUserCommand(opts),
		newTokenCommand(opts),
		newPostmanCommand(opts),
	)
	return root
}

// load reads config and installs the global logger.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		port     int
		dbDriver string
		dbURL    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("db-driver") {
				cfg.Database.Driver = dbDriver
			}
			if cmd.Flags().Changed("db-url") {
				cfg.Database.URL = dbURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides PORT)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "memory, sqlite or postgres (overrides DATABASE_DRIVER)")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "sqlite path or postgres DSN (overrides DATABASE_URL)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Version = version
	log.Info().Str("version", version).Msg("agentsim starting")

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	go srv.Janitor.Start(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", srv.Port),
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Invocations include model calls and tool loops.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", srv.Port).Msg("Listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
