package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/logging"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
	"github.com/hackgods/provider-booking-engine/internal/seed"
	"github.com/hackgods/provider-booking-engine/internal/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Provider data tooling for the booking engine",
	}
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(exceptionCmd())
	rootCmd.AddCommand(scheduleCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Create fake providers with weekday schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			fakerSeed, _ := cmd.Flags().GetUint64("seed")

			return withStores(cmd.Context(), func(ctx context.Context, cfg config.Config, w schedule.Writer) error {
				created, err := seed.Providers(ctx, w, seed.Options{
					Providers:     count,
					EffectiveFrom: time.Now().In(cfg.Timezone),
					Faker:         gofakeit.New(fakerSeed),
				})
				if err != nil {
					return err
				}
				for _, p := range created {
					fmt.Println(p.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("count", 100, "Number of providers to create")
	cmd.Flags().Uint64("seed", 0, "Faker seed, 0 for random")
	return cmd
}

func exceptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exception PROVIDER_ID DATE",
		Short: "Block a provider's calendar date (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("provider id: %w", err)
			}
			reason, _ := cmd.Flags().GetString("reason")

			return withStores(cmd.Context(), func(ctx context.Context, cfg config.Config, w schedule.Writer) error {
				date, err := time.ParseInLocation("2006-01-02", args[1], cfg.Timezone)
				if err != nil {
					return fmt.Errorf("date: %w", err)
				}
				if _, err := w.GetProvider(ctx, providerID); err != nil {
					return err
				}
				return w.AddException(ctx, schedule.Exception{ProviderID: providerID, Date: date, Reason: reason})
			})
		},
	}
	cmd.Flags().String("reason", "", "Why the provider is unavailable")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule PROVIDER_ID",
		Short: "Replace a provider's weekly hours from a date on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("provider id: %w", err)
			}
			days, _ := cmd.Flags().GetIntSlice("days")
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			slot, _ := cmd.Flags().GetInt("slot")
			capacity, _ := cmd.Flags().GetInt("capacity")
			from, _ := cmd.Flags().GetString("from")

			startMin, err := schedule.ParseClock(start)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			endMin, err := schedule.ParseClock(end)
			if err != nil {
				return fmt.Errorf("end: %w", err)
			}

			entries := make([]schedule.WeeklyAvailability, 0, len(days))
			for _, d := range days {
				entries = append(entries, schedule.WeeklyAvailability{
					DayOfWeek:            time.Weekday(d),
					StartMinute:          startMin,
					EndMinute:            endMin,
					SlotDurationMinutes:  slot,
					MaxConcurrentPerSlot: capacity,
				})
			}

			return withStores(cmd.Context(), func(ctx context.Context, cfg config.Config, w schedule.Writer) error {
				effective := time.Now().In(cfg.Timezone)
				if from != "" {
					effective, err = time.ParseInLocation("2006-01-02", from, cfg.Timezone)
					if err != nil {
						return fmt.Errorf("from: %w", err)
					}
				}
				return w.Supersede(ctx, providerID, entries, effective)
			})
		},
	}
	cmd.Flags().IntSlice("days", []int{1, 2, 3, 4, 5}, "Weekdays, 0 is Sunday")
	cmd.Flags().String("start", "09:00", "Start of the working window")
	cmd.Flags().String("end", "17:00", "End of the working window")
	cmd.Flags().Int("slot", 60, "Slot duration in minutes")
	cmd.Flags().Int("capacity", 1, "Max concurrent appointments per slot")
	cmd.Flags().String("from", "", "First date the new hours apply (YYYY-MM-DD), default today")
	return cmd
}

func withStores(parent context.Context, fn func(ctx context.Context, cfg config.Config, w schedule.Writer) error) error {
	env, level := config.LogSettings()
	logging.Init("seed", env, level)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.StorageDriver != config.StoragePostgres {
		return fmt.Errorf("seed writes to postgres only, STORAGE_DRIVER=%s", cfg.StorageDriver)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 5*time.Minute)
	defer cancel()

	stores, err := storage.Open(ctx, cfg, "seed")
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := fn(ctx, cfg, stores.Schedules); err != nil {
		log.Error().Err(err).Msg("seed failed")
		return err
	}
	return nil
}
