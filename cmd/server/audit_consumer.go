package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ttkn/internal/platform/config"
	kafkaconsumer "ttkn/internal/platform/kafka/consumer"
	"ttkn/internal/platform/logger"
	"ttkn/internal/platform/postgres"
	auditconsumer "ttkn/pkg/platform/audit/consumer"
	auditpg "ttkn/pkg/platform/audit/store/postgres"
)

// newAuditConsumerCmd materializes the Kafka audit topic into Postgres so the
// admin audit endpoint can read it back.
func newAuditConsumerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit-consumer",
		Short: "Consume ledger audit events from Kafka into Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			dbCfg := config.LoadDatabase(v)
			kafkaCfg := config.LoadKafka(v)
			if dbCfg.URL == "" {
				return fmt.Errorf("--%s is required", config.FlagDatabaseURL)
			}
			if len(kafkaCfg.Brokers) == 0 {
				return fmt.Errorf("--%s is required", config.FlagKafkaBrokers)
			}
			logCfg := config.LoadLog(v)
			log, err := logger.New(logCfg.Level, logCfg.Format)
			if err != nil {
				return err
			}
			log = log.With("component", "audit-consumer")

			ctx := cmd.Context()
			db, err := postgres.Open(ctx, postgres.Config{
				URL:          dbCfg.URL,
				MaxOpenConns: dbCfg.MaxOpenConns,
				MaxIdleConns: dbCfg.MaxIdleConns,
			})
			if err != nil {
				return err
			}
			defer db.Close()
			if dbCfg.Migrate {
				if _, err := postgres.Migrate(ctx, db); err != nil {
					return err
				}
			}

			router := auditconsumer.NewRouter(log, nil)
			router.Register(kafkaCfg.Topic, auditconsumer.NewStoreHandler(auditpg.New(db), log))

			c, err := kafkaconsumer.New(kafkaCfg.Brokers, kafkaCfg.Group, router.Topics(), router,
				kafkaconsumer.WithLogger(log),
			)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "audit consumer started",
				"topic", kafkaCfg.Topic,
				"group", kafkaCfg.Group,
			)
			return c.Run(ctx)
		},
	}
	cmd.Flags().String(config.FlagConfig, "", "Path to a config file (yaml, json or toml)")
	config.RegisterLogFlags(cmd.Flags())
	config.RegisterDatabaseFlags(cmd.Flags())
	config.RegisterKafkaFlags(cmd.Flags())
	return cmd
}
