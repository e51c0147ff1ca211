package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/psych-forms/internal/queue"
)

func auditConsumerCmd() *cobra.Command {
	var logPath string
	cmd := &cobra.Command{
		Use:   "audit-consumer",
		Short: "Drain the audit queue into the audit log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}
			if cfg.AMQPURL == "" {
				return errors.New("audit-consumer needs RABBITMQ_URL or AMQP_URL")
			}
			if logPath == "" {
				logPath = cfg.AuditLogPath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := &queue.Consumer{URL: cfg.AMQPURL, Queue: cfg.AuditQueue, LogPath: logPath, Log: log}
			log.Info().Str("queue", cfg.AuditQueue).Str("file", logPath).Msg("audit consumer started")
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("audit consumer stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "audit log file (default AUDIT_LOG_PATH)")
	return cmd
}
