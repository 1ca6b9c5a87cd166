package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthhub/telehealth-billing/internal/config"
	"github.com/healthhub/telehealth-billing/internal/db"
)

// The simulator fires concurrent join events at the API and checks that the
// billing pipeline holds up: joins stay idempotent, no appointment is funded
// twice and the no-funder rejection surfaces as a clean conflict.

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	JoinRatio        float64
	ReadRatio        float64
	AppointmentLimit int
	PostgresDSN      string
}

type simAppointment struct {
	ID           uuid.UUID
	TranslatorID *uuid.UUID
	DoctorID     uuid.UUID
}

type DataPool struct {
	Appointments []simAppointment

	mu      sync.RWMutex
	wallets []uuid.UUID // user IDs whose wallets received postings
}

func (dp *DataPool) AddWalletUser(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.wallets = append(dp.wallets, id)
}

func (dp *DataPool) RandomWalletUser(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.wallets) == 0 {
		return uuid.Nil, false
	}
	return dp.wallets[rng.Intn(len(dp.wallets))], true
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

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Join        OperationMetrics
	ReadBilling OperationMetrics
	ReadWallet  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d join=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.JoinRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d joinable appointments", len(dataPool.Appointments))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:       getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:          getInt("SIM_WORKERS", 10),
		JoinRatio:        getFloat("SIM_JOIN_RATIO", 0.7),
		ReadRatio:        getFloat("SIM_READ_RATIO", 0.3),
		AppointmentLimit: getInt("SIM_APPOINTMENT_LIMIT", 2000),
		PostgresDSN:      baseCfg.PostgresDSN,
	}

	total := cfg.JoinRatio + cfg.ReadRatio
	if total > 0 {
		cfg.JoinRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, doctor_id, translator_id
		FROM appointments
		WHERE status IN ('confirmed', 'in_progress')
		LIMIT $1
	`, cfg.AppointmentLimit)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a simAppointment
		if err := rows.Scan(&a.ID, &a.DoctorID, &a.TranslatorID); err != nil {
			return nil, err
		}
		dataPool.Appointments = append(dataPool.Appointments, a)
	}

	if len(dataPool.Appointments) == 0 {
		return nil, fmt.Errorf("no joinable appointments loaded, run the seeder first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			if r < s.config.JoinRatio {
				s.doJoin(ctx, rng)
			} else if rng.Intn(2) == 0 {
				s.doReadBilling(ctx, rng)
			} else {
				s.doReadWallet(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doJoin(ctx context.Context, rng *rand.Rand) {
	appt := s.pool.Appointments[rng.Intn(len(s.pool.Appointments))]

	// Weighted toward the patient so the billing trigger fires often; the
	// doctor join is what upgrades drafts to billed.
	participant := "patient"
	switch rng.Intn(4) {
	case 0, 1:
	case 2:
		participant = "doctor"
	case 3:
		if appt.TranslatorID != nil {
			participant = "translator"
		} else {
			participant = "doctor"
		}
	}

	start := time.Now()

	body, _ := json.Marshal(map[string]string{"participant_type": participant})
	req, _ := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/appointments/%s/join", s.config.APIBaseURL, appt.ID.String()), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			success = true
			if participant == "doctor" {
				s.pool.AddWalletUser(appt.DoctorID)
			}
			io.Copy(io.Discard, resp.Body)
		case http.StatusConflict:
			// Either another worker holds the billing lock or no
			// organization can fund the session; both are expected.
			conflict = true
		}
	}

	s.metrics.Join.Record(latency, success, conflict)
}

func (s *Simulator) doReadBilling(ctx context.Context, rng *rand.Rand) {
	appt := s.pool.Appointments[rng.Intn(len(s.pool.Appointments))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/appointments/%s/billing", s.config.APIBaseURL, appt.ID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		// 404 just means nobody joined this appointment yet.
		success = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound
	}

	s.metrics.ReadBilling.Record(latency, success, false)
}

func (s *Simulator) doReadWallet(ctx context.Context, rng *rand.Rand) {
	userID, ok := s.pool.RandomWalletUser(rng)
	if !ok {
		return
	}

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/wallets/%s", s.config.APIBaseURL, userID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadWallet.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Join", &s.metrics.Join)
	printOperationReport("Read Billing", &s.metrics.ReadBilling)
	printOperationReport("Read Wallet", &s.metrics.ReadWallet)
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
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
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

func getDurationEnv(key string, def time.Duration) time.Duration {
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
