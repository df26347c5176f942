package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/logging"
	"github.com/hackgods/provider-booking-engine/internal/notify"
	redisclient "github.com/hackgods/provider-booking-engine/internal/redis"
	"github.com/hackgods/provider-booking-engine/internal/storage"
)

func main() {
	env, level := config.LogSettings()
	logging.Init("noshow-worker", env, level)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("grace", cfg.NoShowGrace).
		Msg("noshow-worker starting up")

	if cfg.StorageDriver == config.StorageMemory {
		log.Fatal().Msg("noshow-worker needs shared storage, STORAGE_DRIVER=memory is not supported")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := storage.Open(rootCtx, cfg, "noshow-worker")
	if err != nil {
		log.Fatal().Err(err).Msg("storage init error")
	}
	defer stores.Close()

	var target notify.Notifier = notify.LogNotifier{}
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:       cfg.RedisAddr,
			Username:   cfg.RedisUsername,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			PoolSize:   2,
			ClientName: "noshow-worker",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		target = redisclient.NewPublisher(rdb, redisclient.ChannelAppointmentEvents)
	}

	dispatcher := notify.NewDispatcher(target, cfg.NotifyWorkers, cfg.NotifyQueueSize, cfg.NotifyTimeout)
	defer dispatcher.Close()

	coordinator := appointment.NewCoordinator(stores.Appointments, stores.Schedules, dispatcher, appointment.Policy{
		CancellationCutoff: cfg.CancellationCutoff,
		Location:           cfg.Timezone,
	})

	// Run once at startup
	runOnce(rootCtx, coordinator, cfg)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping noshow-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, coordinator, cfg)
		}
	}
}

func runOnce(ctx context.Context, c *appointment.Coordinator, cfg config.Config) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := c.SweepNoShows(runCtx, cfg.NoShowGrace, cfg.NoShowBatch)
	if err != nil {
		log.Error().Err(err).Msg("no-show run error")
		return
	}
	log.Info().Int("marked", marked).Dur("took", time.Since(start)).Msg("no-show run complete")
}
