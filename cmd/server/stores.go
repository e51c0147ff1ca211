package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iliyamo/psych-forms/internal/config"
	"github.com/iliyamo/psych-forms/internal/database"
	"github.com/iliyamo/psych-forms/internal/repository"
)

// backends are the durable stores named by the configuration.  Either may
// be nil when disabled.
type backends struct {
	file *repository.FileStore
	sql  *repository.SQLStore
}

// openBackends opens the JSON documents and the relational store.  Any
// failure is fatal: a configured backend that cannot be opened aborts
// startup.
func openBackends(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.FileMirror {
		fs, err := repository.OpenFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open file store in %s: %w", cfg.DataDir, err)
		}
		b.file = fs
		log.Info().Str("dir", cfg.DataDir).Msg("file store opened")
	}
	if cfg.RelationalDriver == config.DriverNone {
		return b, nil
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.RelationalDriver {
	case config.DriverMySQL:
		db, err = database.OpenMySQL(database.MySQLParams{
			User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		})
	default:
		db, err = database.OpenSQLite(cfg.SQLitePath)
	}
	if err != nil {
		b.close()
		return nil, fmt.Errorf("open %s: %w", cfg.RelationalDriver, err)
	}
	s, err := repository.NewSQLStore(ctx, db, cfg.RelationalDriver)
	if err != nil {
		_ = db.Close()
		b.close()
		return nil, fmt.Errorf("prepare %s schema: %w", cfg.RelationalDriver, err)
	}
	b.sql = s
	log.Info().Str("driver", s.Driver()).Msg("relational store opened")
	return b, nil
}

func (b *backends) close() error {
	var errs []error
	if b.file != nil {
		errs = append(errs, b.file.Close())
	}
	if b.sql != nil {
		errs = append(errs, b.sql.Close())
	}
	return errors.Join(errs...)
}

// mirrors lists the open backends in replication order.
func (b *backends) mirrors() []repository.Mirror {
	var out []repository.Mirror
	if b.file != nil {
		out = append(out, repository.Mirror{Name: "file", Store: b.file})
	}
	if b.sql != nil {
		out = append(out, repository.Mirror{Name: "sql", Store: b.sql})
	}
	return out
}

// buildStore loads the durable state into a fresh in-memory primary and
// wraps it with the configured mirrors.  The JSON documents seed memory
// when they hold any data, otherwise the relational store does; every
// other backend is then brought up to date from memory.
func buildStore(ctx context.Context, cfg config.Config, b *backends, log zerolog.Logger) (*repository.Mirrored, error) {
	primary := repository.NewMemoryStore()

	var seed repository.Store
	seedName := ""
	for _, m := range b.mirrors() {
		empty, err := isEmptyStore(ctx, m.Store)
		if err != nil {
			return nil, fmt.Errorf("inspect %s store: %w", m.Name, err)
		}
		if !empty {
			seed, seedName = m.Store, m.Name
			break
		}
	}
	if seed != nil {
		stats, err := repository.Migrate(ctx, seed, primary)
		if err != nil {
			return nil, fmt.Errorf("load %s store: %w", seedName, err)
		}
		log.Info().Str("from", seedName).Int("users", stats.Users).Int("forms", stats.Forms).
			Int("responses", stats.Responses).Msg("state loaded")
	}
	for _, m := range b.mirrors() {
		if m.Name == seedName {
			continue
		}
		stats, err := repository.Migrate(ctx, primary, m.Store)
		if err != nil {
			// Best effort, like every other mirror write.
			log.Warn().Err(err).Str("mirror", m.Name).Msg("mirror catch-up incomplete")
			continue
		}
		if stats.Users+stats.Forms+stats.Responses > 0 {
			log.Info().Str("mirror", m.Name).Int("users", stats.Users).Int("forms", stats.Forms).
				Int("responses", stats.Responses).Msg("mirror caught up")
		}
	}

	return repository.NewMirrored(primary, repository.MirroredOptions{
		Mirrors:  b.mirrors(),
		Reader:   "sql",
		Observer: repository.LogObserver(log),
		Async:    cfg.MirrorAsync,
	}), nil
}

func isEmptyStore(ctx context.Context, s repository.Store) (bool, error) {
	users, err := s.ListUsers(ctx, repository.UserFilter{})
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	forms, err := s.ListForms(ctx, repository.FormFilter{})
	if err != nil {
		return false, err
	}
	return len(forms) == 0, nil
}
