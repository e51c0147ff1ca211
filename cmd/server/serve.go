package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iliyamo/psych-forms/internal/config"
	"github.com/iliyamo/psych-forms/internal/handler"
	"github.com/iliyamo/psych-forms/internal/logger"
	"github.com/iliyamo/psych-forms/internal/queue"
	"github.com/iliyamo/psych-forms/internal/repository"
	"github.com/iliyamo/psych-forms/internal/router"
	"github.com/iliyamo/psych-forms/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadRuntime reads the configuration and builds the logger every command
// shares.
func loadRuntime() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	log := logger.New(logger.Options{Level: cfg.LogLevel, Dev: cfg.IsDev(), File: cfg.LogFile})
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return cfg, log, err
	}
	return cfg, log, nil
}

func runServer() error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		cancel()
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	store, err := buildStore(ctx, cfg, b, log)
	cancel()
	if err != nil {
		_ = b.close()
		log.Error().Err(err).Msg("startup failed")
		return err
	}

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-process guard")
		rdb = nil
	}
	var guard repository.CreationGuard = repository.NewMemoryGuard()
	if rdb != nil {
		guard = repository.NewRedisGuard(rdb, cfg.Redis.Prefix, func(err error) {
			log.Warn().Err(err).Msg("redis claim failed, falling back to in-process guard")
		})
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}

	var events service.EventPublisher
	if cfg.AMQPURL != "" {
		events = queue.NewPublisher(cfg.AMQPURL, cfg.AuditQueue)
		log.Info().Str("queue", cfg.AuditQueue).Msg("audit events enabled")
	}

	engine := service.NewEngine(store, guard, events, service.Config{
		JWTSecret:       cfg.JWTSecret,
		TokenTTL:        cfg.TokenTTL,
		BcryptCost:      cfg.BcryptCost,
		DuplicateWindow: cfg.DuplicateWindow,
	}, log)

	ready := map[string]handler.Pinger{}
	if b.sql != nil {
		ready["sql"] = b.sql
	}
	if rdb != nil {
		ready["redis"] = redisPinger{rdb}
	}
	e := router.New(router.Deps{Engine: engine, Log: log, Ready: ready})

	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	engine.Wait()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("closing stores")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info().Msg("server stopped")
	return nil
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
