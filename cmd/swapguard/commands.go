package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/swapguard/internal/app"
	"github.com/alanyoungcy/swapguard/internal/config"
	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/risk"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the service in the configured mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger.Info("swapguard starting",
				slog.String("mode", cfg.Mode),
				slog.Any("config", config.RedactedConfig(cfg)),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(cmd.Context()); err != nil && !isShutdown(err) {
				logger.Error("application error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("swapguard stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client, err := app.OpenPostgres(cmd.Context(), cfg.Postgres)
			if err != nil {
				logger.Error("connect failed", slog.String("error", err.Error()))
				return err
			}
			defer client.Close()

			applied, err := client.RunMigrations(cmd.Context())
			if err != nil {
				logger.Error("migrations failed", slog.String("error", err.Error()))
				return err
			}
			logger.Info("migrations complete", slog.Int("applied", len(applied)), slog.Any("names", applied))
			return nil
		},
	}
}

// scoreCmd runs the heuristic scorer offline, without market lookups.
func scoreCmd(configPath *string) *cobra.Command {
	var name, symbol string
	cmd := &cobra.Command{
		Use:   "score <address>",
		Short: "Score a token for scam indicators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			assessment := risk.NewScorer(cfg.Risk.ScamThreshold).Score(domain.TokenSubject{
				Address: args[0],
				Name:    name,
				Symbol:  symbol,
			}, nil)

			out, err := json.MarshalIndent(assessment, "", "  ")
			if err != nil {
				return fmt.Errorf("encode assessment: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "token name")
	cmd.Flags().StringVar(&symbol, "symbol", "", "token symbol")
	return cmd
}
