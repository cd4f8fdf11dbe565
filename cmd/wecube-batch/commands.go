package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/yyri/wecube-platform/internal/config"
	"github.com/yyri/wecube-platform/internal/logging"
	"github.com/yyri/wecube-platform/internal/store/postgres"

	_ "github.com/lib/pq"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(config.Load()); err != nil {
				return invalidConfig(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Load().MaskedJSON()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return invalidConfig(fmt.Errorf("DATABASE_URL: required"))
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return invalidConfig(err)
			}

			ctx := cmd.Context()
			db, err := openDB(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			v, err := postgres.MigrationVersion(ctx, db)
			if err != nil {
				return err
			}
			logger.Info("schema up to date", "version", v)
			return nil
		},
	}
}

func newLogger(cfg config.Config) (*log.Logger, error) {
	return logging.New(os.Stderr, logging.Config{
		Level: cfg.LogLevel,
		JSON:  cfg.LogFormat == "json",
	})
}

// pingAttempts bounds database connection retries at startup.
const pingAttempts = 5

// openDB opens the pool and waits for the database to accept connections.
func openDB(ctx context.Context, cfg config.Config, logger *log.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info("db pool configured",
		"max_open", cfg.DBMaxOpenConns, "max_idle", cfg.DBMaxIdleConns,
		"max_lifetime", cfg.DBConnMaxLifetime, "max_idle_time", cfg.DBConnMaxIdleTime)

	if err := pingWithRetry(ctx, db, cfg.DBOpTimeout, pingAttempts, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, timeout time.Duration, attempts uint64, logger *log.Logger) error {
	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database not ready", "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
