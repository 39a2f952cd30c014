package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ttkn/internal/platform/config"
	"ttkn/internal/platform/logger"
	"ttkn/internal/platform/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger and audit schema to Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			dbCfg := config.LoadDatabase(v)
			if dbCfg.URL == "" {
				return fmt.Errorf("--%s is required", config.FlagDatabaseURL)
			}
			logCfg := config.LoadLog(v)
			log, err := logger.New(logCfg.Level, logCfg.Format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := postgres.Open(ctx, postgres.Config{URL: dbCfg.URL, MaxOpenConns: 1})
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(ctx, db)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "database schema applied", "migrations", applied)
			return nil
		},
	}
	cmd.Flags().String(config.FlagConfig, "", "Path to a config file (yaml, json or toml)")
	config.RegisterLogFlags(cmd.Flags())
	config.RegisterDatabaseFlags(cmd.Flags())
	return cmd
}
