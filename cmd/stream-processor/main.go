package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"f1-telemetry/stream-processor/internal/auth"
	"f1-telemetry/stream-processor/internal/config"
	"f1-telemetry/stream-processor/internal/logging"
	"f1-telemetry/stream-processor/internal/pipeline"
	"f1-telemetry/stream-processor/internal/store"
	"f1-telemetry/stream-processor/internal/stream"
	httptransport "f1-telemetry/stream-processor/internal/transport/http"
	"f1-telemetry/stream-processor/internal/transport/kafka"
	"f1-telemetry/stream-processor/internal/transport/mqtt"
	"f1-telemetry/stream-processor/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("stream processor exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc := stream.NewProcessor(stream.Config{
		Shards:        cfg.Shards,
		QueueSize:     cfg.ShardQueueSize,
		IdleTTL:       cfg.EntityIdleTTL,
		SweepInterval: cfg.EntitySweepInterval,
		Detector:      stream.DefaultDetectorConfig(),
		Now:           time.Now,
	}, log)
	proc.Start()
	defer proc.Stop()

	var pg *store.PostgresStore
	if cfg.DatabaseEnabled() {
		var err error
		pg, err = store.NewPostgresStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		log.Info("postgres sink enabled", slog.String("host", cfg.DBHost), slog.String("database", cfg.DBName))
	}

	var rdb *store.RedisStore
	if cfg.RedisEnabled() {
		var err error
		rdb, err = store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		log.Info("redis sink enabled", slog.String("addr", cfg.RedisAddr))
	}

	// Sinks and their writers. Writers run on their own context and stop
	// once the dispatcher closes their channels.
	dispatcher := pipeline.NewDispatcher()
	writerCtx := context.Background()
	var writers errgroup.Group

	if pg != nil {
		w := pipeline.NewDBWriter(dispatcher.AddSink("db", cfg.DBChannelSize), pg, log, cfg.DBBatchSize, cfg.DBFlushIntervalMS)
		writers.Go(func() error { w.Run(writerCtx); return nil })
	}
	if rdb != nil {
		w := pipeline.NewStateWriter(dispatcher.AddSink("state", cfg.StateChannelSize), rdb, log)
		writers.Go(func() error { w.Run(writerCtx); return nil })
	}

	// Typed nil pointers must not leak into the interfaces.
	var alertDB pipeline.AlertStore
	var alertBus pipeline.AlertBus
	if pg != nil {
		alertDB = pg
	}
	if rdb != nil {
		alertBus = rdb
	}
	if alertDB != nil || alertBus != nil {
		w := pipeline.NewAlertWriter(dispatcher.AddSink("alerts", cfg.AlertChannelSize), alertDB, alertBus, log)
		writers.Go(func() error { w.Run(writerCtx); return nil })
	}

	hub := ws.NewHub(dispatcher.AddSink("ws", cfg.WSChannelSize), log)
	writers.Go(func() error { return hub.Run(writerCtx) })

	var authMW *httptransport.AuthMiddleware
	if cfg.AuthEnabled() {
		var lookup auth.KeyLookup
		if cfg.AuthRedisLookup && rdb != nil {
			lookup = rdb
		}
		authMW = httptransport.NewAuthMiddleware(auth.NewAuthenticator(cfg, lookup))
		log.Info("api key auth enabled",
			slog.Int("static_keys", len(cfg.ValidAPIKeys)),
			slog.Bool("redis_lookup", lookup != nil),
		)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: httptransport.NewServer(httptransport.Options{
			Processor: proc,
			Publisher: dispatcher,
			Logger:    log,
			Auth:      authMW,
			Live:      hub,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", slog.String("addr", srv.Addr), slog.String("mode", cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown error", slog.Any("error", err))
		}
		return nil
	})

	handler := pipeline.NewMessageHandler(proc, dispatcher, log)
	switch cfg.Mode {
	case config.ModeKafka:
		consumer := kafka.NewConsumer(cfg, handler, log)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(gctx)
		})
	case config.ModeMQTT:
		sub := mqtt.NewSubscriber(cfg, handler, log)
		g.Go(func() error { return sub.Run(gctx) })
	}

	err := g.Wait()
	log.Info("shutting down", slog.Bool("signal", ctx.Err() != nil))

	// Nothing produces results any more; drain the queued records, then let
	// every writer flush what it holds.
	proc.Stop()
	dispatcher.Close()
	_ = writers.Wait()

	return err
}
