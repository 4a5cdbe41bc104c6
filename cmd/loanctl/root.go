package main

import (
	"context"
	"log/slog"

	"github.com/microloan-ledger/internal/config"
	"github.com/microloan-ledger/internal/logger"
	"github.com/spf13/cobra"
)

var flagConfig string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loanctl",
		Short:         "Operator tool for the microloan ledger",
		Long:          "Runs migrations and portfolio jobs against the loan database, and previews schedules and installments offline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "loanctl", "Config file name, without extension")

	root.AddCommand(
		newMigrateCmd(),
		newAccrueCmd(),
		newOverdueCmd(),
		newScheduleCmd(),
		newInstallmentCmd(),
	)
	return root
}

// loadEnv reads the configuration and builds the logger for commands that
// need the database.
func loadEnv() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLogger(cfg), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
