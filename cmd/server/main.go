// Package main is the entry point for the sandbox server.
//
// The main package stays minimal: it parses the command line, loads
// configuration, builds the logger and hands over to internal/server.
//
//	sandbox-server [serve] [--config sandbox.yaml] [--addr :8080] ...
//	sandbox-server migrate
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/sandbox-server/internal/config"
	sqliteRepo "github.com/sakif/sandbox-server/internal/repository/sqlite"
	"github.com/sakif/sandbox-server/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           "sandbox-server",
		Short:         "Accounts, sessions and projects for the code sandbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the bare binary serves.
		RunE: serve.RunE,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(serve, newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			// SIGINT / SIGTERM cancel ctx; Run then shuts down gracefully.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			return srv.Run(ctx)
		},
	}
}

// newMigrateCmd applies pending schema migrations and exits. serve migrates
// on startup too; this exists for deployments that migrate as a separate step.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDBDir(); err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := sqliteRepo.New(ctx, cfg.DB.Path)
			if err != nil {
				return fmt.Errorf("migrating %s: %w", cfg.DB.Path, err)
			}
			defer db.Close()

			version, err := db.Version(ctx)
			if err != nil {
				return err
			}
			logger.Info("database migrated",
				slog.String("database", cfg.DB.Path),
				slog.Int64("version", version),
			)
			return nil
		},
	}
}

func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log), nil
}

// newLogger builds the process logger. Text output is easier to read in a
// terminal; JSON is what log collectors want.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
