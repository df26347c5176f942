package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/provider-booking-engine/internal/api"
	"github.com/hackgods/provider-booking-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	BookingRatio     float64
	LifecycleRatio   float64
	ReadRatio        float64
	Patients         int
	ProviderLimit    int
	SlotsPerProvider int
	HorizonDays      int
}

type bookable struct {
	ProviderID uuid.UUID
	At         time.Time
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []bookable

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	Confirm       OperationMetrics
	Cancel        OperationMetrics
	Reschedule    OperationMetrics
	Availability  OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	logging.Init("simulate", getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("lifecycle", cfg.LifecycleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = pool

	log.Info().Int("patients", len(pool.Patients)).Int("slots", len(pool.Slots)).Msg("data pool loaded")

	if err := sim.Run(); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}

	sim.PrintReport()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sim.Verify(ctx); err != nil {
		log.Fatal().Err(err).Msg("verification failed")
	}
	log.Info().Msg("verification passed: no slot was double-booked")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:       getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         getDuration("SIM_DURATION", 30*time.Second),
		Workers:          getInt("SIM_WORKERS", 10),
		BookingRatio:     getFloat("SIM_BOOKING_RATIO", 0.5),
		LifecycleRatio:   getFloat("SIM_LIFECYCLE_RATIO", 0.2),
		ReadRatio:        getFloat("SIM_READ_RATIO", 0.3),
		Patients:         getInt("SIM_PATIENTS", 500),
		ProviderLimit:    getInt("SIM_PROVIDER_LIMIT", 10),
		SlotsPerProvider: getInt("SIM_SLOTS_PER_PROVIDER", 20),
		HorizonDays:      getInt("SIM_HORIZON_DAYS", 14),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.LifecycleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.LifecycleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool asks the API for providers and their open slots. Patients are
// random ids since the engine does not own patient records.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	pool := &DataPool{}
	for i := 0; i < s.config.Patients; i++ {
		pool.Patients = append(pool.Patients, uuid.New())
	}

	var providers api.ListProvidersResponse
	if err := s.getJSON(ctx, fmt.Sprintf("/providers?limit=%d", s.config.ProviderLimit), &providers); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	from := time.Now().Format("2006-01-02")
	for _, p := range providers.Providers {
		var avail api.AvailabilityResponse
		path := fmt.Sprintf("/providers/%s/availability?from=%s&days=%d&limit=%d",
			p.ID, from, s.config.HorizonDays, s.config.SlotsPerProvider)
		if err := s.getJSON(ctx, path, &avail); err != nil {
			return nil, fmt.Errorf("availability for %s: %w", p.ID, err)
		}
		for _, o := range avail.Slots {
			pool.Slots = append(pool.Slots, bookable{ProviderID: p.ID, At: o.Datetime})
		}
	}

	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots found, seed providers first")
	}
	return pool, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(gctx, workerID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("simulation complete")
	return nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.LifecycleRatio:
				switch rng.Intn(3) {
				case 0:
					s.doConfirm(ctx, rng)
				case 1:
					s.doCancel(ctx, rng)
				case 2:
					s.doReschedule(ctx, rng)
				}
			default:
				switch rng.Intn(3) {
				case 0:
					s.doAvailability(ctx, rng)
				case 1:
					s.doReadByID(ctx, rng)
				case 2:
					s.doListByPatient(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body := api.BookAppointmentRequest{
		PatientID:   patientID.String(),
		ProviderID:  slot.ProviderID.String(),
		ScheduledAt: slot.At,
	}

	start := time.Now()
	status, appt, err := s.sendAppointment(ctx, http.MethodPost, "/appointments", body)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddAppointment(appt.ID)
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.sendAppointment(ctx, http.MethodPatch, "/appointments/"+apptID.String()+"/confirm", nil)
	s.metrics.Confirm.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.sendAppointment(ctx, http.MethodPatch, "/appointments/"+apptID.String()+"/cancel",
		api.CancelAppointmentRequest{Reason: "simulated"})
	s.metrics.Cancel.Record(time.Since(start), err == nil && status == http.StatusOK,
		status == http.StatusConflict || status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	status, appt, err := s.sendAppointment(ctx, http.MethodPatch, "/appointments/"+apptID.String()+"/reschedule",
		api.RescheduleAppointmentRequest{ScheduledAt: slot.At, Reason: "simulated"})
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	if success {
		s.pool.AddAppointment(appt.ID)
	}
	// a slot of another provider is off this provider's grid
	s.metrics.Reschedule.Record(latency, success,
		status == http.StatusConflict || status == http.StatusUnprocessableEntity || status == http.StatusBadRequest)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	var avail api.AvailabilityResponse
	err := s.getJSON(ctx, fmt.Sprintf("/providers/%s/availability?days=%d", slot.ProviderID, s.config.HorizonDays), &avail)
	s.metrics.Availability.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	var appt api.AppointmentResponse
	err := s.getJSON(ctx, "/appointments/"+apptID.String(), &appt)
	s.metrics.ReadByID.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	var list api.ListAppointmentsResponse
	err := s.getJSON(ctx, fmt.Sprintf("/appointments?patient_id=%s&limit=20&offset=0", patientID), &list)
	s.metrics.ListByPatient.Record(time.Since(start), err == nil, false)
}

// Verify lists every touched provider's appointments and fails if two active
// appointments start at the same time.
func (s *Simulator) Verify(ctx context.Context) error {
	providers := make(map[uuid.UUID]struct{})
	var from, to time.Time
	for _, slot := range s.pool.Slots {
		providers[slot.ProviderID] = struct{}{}
		if from.IsZero() || slot.At.Before(from) {
			from = slot.At
		}
		if slot.At.After(to) {
			to = slot.At
		}
	}
	to = to.Add(24 * time.Hour)

	for providerID := range providers {
		var list api.ListAppointmentsResponse
		path := fmt.Sprintf("/appointments?provider_id=%s&from=%s&to=%s",
			providerID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
		if err := s.getJSON(ctx, path, &list); err != nil {
			return fmt.Errorf("list provider %s: %w", providerID, err)
		}

		seen := make(map[int64]uuid.UUID)
		for _, a := range list.Appointments {
			if a.State != "scheduled" && a.State != "confirmed" && a.State != "in_progress" {
				continue
			}
			key := a.ScheduledAt.Unix()
			if other, dup := seen[key]; dup {
				return fmt.Errorf("provider %s double-booked at %s: %s and %s",
					providerID, a.ScheduledAt.Format(time.RFC3339), other, a.ID)
			}
			seen[key] = a.ID
		}
	}
	return nil
}

func (s *Simulator) sendAppointment(ctx context.Context, method, path string, body any) (int, api.AppointmentResponse, error) {
	var appt api.AppointmentResponse

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, appt, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, appt, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, appt, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
			return resp.StatusCode, appt, err
		}
	}
	return resp.StatusCode, appt, nil
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slots contended: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
