package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/psych-forms/internal/repository"
)

func migrateCmd() *cobra.Command {
	var (
		reverse bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every record from the JSON documents into the relational store",
		Long: "Upserts users, forms and responses from DATA_DIR into the configured " +
			"relational store.  Safe to run repeatedly.  With --reverse the copy " +
			"runs from the relational store into the JSON documents.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime()
			if err != nil {
				return err
			}
			cfg.FileMirror = true

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			b, err := openBackends(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.close()
			if b.sql == nil {
				return errors.New("migrate needs a relational store; RELATIONAL_DRIVER is none")
			}

			var src, dst repository.Store = b.file, b.sql
			from, to := "file", b.sql.Driver()
			if reverse {
				src, dst = dst, src
				from, to = to, from
			}
			stats, err := repository.Migrate(ctx, src, dst)
			log.Info().Str("from", from).Str("to", to).Int("users", stats.Users).Int("forms", stats.Forms).
				Int("responses", stats.Responses).Msg("migration finished")
			if err != nil {
				return fmt.Errorf("migrate %s -> %s: %w", from, to, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reverse, "reverse", false, "copy from the relational store into the JSON documents")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the copy after this long")
	return cmd
}
