// Package storage opens the schedule and booking stores for the configured
// driver.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/db"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
)

type Stores struct {
	Schedules    schedule.Writer
	Appointments appointment.Repository
	// Pool is nil for the memory driver.
	Pool *pgxpool.Pool
}

func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Open connects the stores. For postgres the schema is applied before
// returning. service names the Postgres connections.
func Open(ctx context.Context, cfg config.Config, service string) (*Stores, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn().Msg("using in-memory storage, data is lost on exit")
		return &Stores{
			Schedules:    schedule.NewMemoryStore(),
			Appointments: appointment.NewMemoryRepository(),
		}, nil

	case config.StoragePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns:        cfg.PostgresMaxConns,
			MinConns:        cfg.PostgresMinConns,
			MaxConnLifetime: cfg.PostgresConnLifetime,
			ApplicationName: service,
			Timezone:        cfg.Timezone,
			Migrate:         true,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Int32("max_conns", cfg.PostgresMaxConns).Msg("connected to Postgres")

		return &Stores{
			Schedules:    schedule.NewPgStore(pool),
			Appointments: appointment.NewPgRepository(pool),
			Pool:         pool,
		}, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}
