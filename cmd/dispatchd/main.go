package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-dispatch/internal/adapters/common"
	emailadapter "github.com/example/notification-dispatch/internal/adapters/email"
	smsadapter "github.com/example/notification-dispatch/internal/adapters/sms"
	"github.com/example/notification-dispatch/internal/api"
	"github.com/example/notification-dispatch/internal/config"
	"github.com/example/notification-dispatch/internal/dispatch"
	"github.com/example/notification-dispatch/internal/events"
	"github.com/example/notification-dispatch/internal/logger"
	"github.com/example/notification-dispatch/internal/providers/factory"
	"github.com/example/notification-dispatch/internal/settings"
	"github.com/example/notification-dispatch/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "dispatchd").Logger()

	st, err := store.Open(store.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: cfg.Store.BusyTimeout,
	}, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	resolver := settings.FromEnv(cfg.App.SettingsPrefix)

	emailProvider, err := factory.Email(resolver, cfg.App.MockProviders, log.With().Str("component", "email-provider").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise email provider")
	}
	smsProvider, err := factory.SMS(resolver, cfg.App.MockProviders, log.With().Str("component", "sms-provider").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise sms provider")
	}

	emailAdapter, err := emailadapter.NewAdapter(emailProvider, log.With().Str("component", "email-adapter").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise email adapter")
	}
	smsAdapter, err := smsadapter.NewAdapter(smsProvider, resolver, log.With().Str("component", "sms-adapter").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise sms adapter")
	}

	var opts []dispatch.Option
	if len(cfg.Kafka.Brokers) > 0 {
		prod, err := events.NewProducer(cfg.Kafka.Brokers, log.With().Str("component", "kafka").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()

		publisher, err := events.NewReceiptsPublisher(prod, cfg.Kafka.ReceiptsTopic, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create receipts publisher")
		}
		opts = append(opts, dispatch.WithReceiptPublisher(publisher))
		log.Info().Str("topic", cfg.Kafka.ReceiptsTopic).Msg("delivery receipts enabled")
	}

	engine, err := dispatch.New(st, resolver, []common.Adapter{emailAdapter, smsAdapter},
		log.With().Str("component", "dispatch").Logger(), opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise dispatcher")
	}

	srv, err := api.NewServer(engine, st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise http server")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Int("port", cfg.App.Port).Msg("dispatch service started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server terminated with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("dispatchd init failed")
}
