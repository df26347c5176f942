package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/provider-booking-engine/internal/api"
	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/availability"
	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/logging"
	"github.com/hackgods/provider-booking-engine/internal/notify"
	redisclient "github.com/hackgods/provider-booking-engine/internal/redis"
	"github.com/hackgods/provider-booking-engine/internal/seed"
	"github.com/hackgods/provider-booking-engine/internal/storage"
)

var version = "dev"

func main() {
	env, level := config.LogSettings()
	logging.Init("api-server", env, level)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Str("timezone", cfg.Timezone.String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := storage.Open(rootCtx, cfg, "api-server")
	if err != nil {
		log.Fatal().Err(err).Msg("storage init error")
	}
	defer stores.Close()

	if cfg.StorageDriver == config.StorageMemory && cfg.SeedProviders > 0 {
		if _, err := seed.Providers(rootCtx, stores.Schedules, seed.Options{
			Providers:     cfg.SeedProviders,
			EffectiveFrom: time.Now().In(cfg.Timezone),
		}); err != nil {
			log.Fatal().Err(err).Msg("seed error")
		}
	}

	// Redis is optional: without it there is no availability cache and
	// notifications only go to the log.
	var (
		rdb    *redis.Client
		cache  availability.Cache
		target notify.Notifier = notify.LogNotifier{}
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisOptions(cfg))
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		cache = redisclient.NewAvailabilityCache(rdb)
		target = redisclient.NewPublisher(rdb, redisclient.ChannelAppointmentEvents)
	}

	dispatcher := notify.NewDispatcher(target, cfg.NotifyWorkers, cfg.NotifyQueueSize, cfg.NotifyTimeout)
	defer dispatcher.Close()

	coordinator := appointment.NewCoordinator(stores.Appointments, stores.Schedules, dispatcher, appointment.Policy{
		CancellationCutoff: cfg.CancellationCutoff,
		Location:           cfg.Timezone,
	})

	availabilitySvc := availability.NewService(stores.Schedules, stores.Appointments, cache, availability.Options{
		MaxHorizonDays: cfg.MaxHorizonDays,
		DefaultLimit:   cfg.DefaultSlotLimit,
		CacheTTL:       cfg.AvailabilityCacheTTL,
		Location:       cfg.Timezone,
	})

	router := api.NewRouter(api.RouterConfig{
		Booking:      coordinator,
		Availability: availabilitySvc,
		Providers:    stores.Schedules,
		Location:     cfg.Timezone,
		PgPool:       stores.Pool,
		Redis:        rdb,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
}

func redisOptions(cfg config.Config) redisclient.Options {
	return redisclient.Options{
		Addr:       cfg.RedisAddr,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		PoolSize:   cfg.RedisPoolSize,
		ClientName: "api-server",
	}
}
