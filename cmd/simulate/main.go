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

	"github.com/carebridge/waitlist-engine/internal/config"
	"github.com/carebridge/waitlist-engine/internal/db"
)

// The simulator hammers the allocation endpoint with many workers
// fighting over a small pool of open slots. With the conditional
// updates in place, every slot should produce exactly one success and
// the rest conflicts; the report makes that visible.
type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	AllocateRatio  float64
	CandidateRatio float64
	PositionRatio  float64
	SlotLimit      int
	PostgresDSN    string
}

type slotRef struct {
	ID         uuid.UUID
	PracticeID uuid.UUID
}

type DataPool struct {
	Slots             []slotRef
	EntriesByPractice map[uuid.UUID][]uuid.UUID
}

func (dp *DataPool) randomPair(rng *rand.Rand) (slotID, entryID uuid.UUID, ok bool) {
	if len(dp.Slots) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	slot := dp.Slots[rng.Intn(len(dp.Slots))]
	entries := dp.EntriesByPractice[slot.PracticeID]
	if len(entries) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	return slot.ID, entries[rng.Intn(len(entries))], true
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
	Allocate   OperationMetrics
	Candidates OperationMetrics
	Position   OperationMetrics
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

	log.Printf("config: duration=%s workers=%d allocate=%.2f candidates=%.2f position=%.2f",
		cfg.Duration, cfg.Workers, cfg.AllocateRatio, cfg.CandidateRatio, cfg.PositionRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	totalEntries := 0
	for _, entries := range dataPool.EntriesByPractice {
		totalEntries += len(entries)
	}
	log.Printf("loaded: %d slots, %d active entries across %d practices",
		len(dataPool.Slots), totalEntries, len(dataPool.EntriesByPractice))

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
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		AllocateRatio:  getFloat("SIM_ALLOCATE_RATIO", 0.5),
		CandidateRatio: getFloat("SIM_CANDIDATE_RATIO", 0.3),
		PositionRatio:  getFloat("SIM_POSITION_RATIO", 0.2),
		SlotLimit:      getInt("SIM_SLOT_LIMIT", 200),
		PostgresDSN:    baseCfg.PostgresDSN,
	}

	total := cfg.AllocateRatio + cfg.CandidateRatio + cfg.PositionRatio
	if total > 0 {
		cfg.AllocateRatio /= total
		cfg.CandidateRatio /= total
		cfg.PositionRatio /= total
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
	dataPool := &DataPool{
		EntriesByPractice: make(map[uuid.UUID][]uuid.UUID),
	}

	// A deliberately small slot pool so workers collide.
	rows, err := pool.Query(ctx, `
		SELECT s.id, pr.practice_id
		FROM appointment_slots s
		JOIN providers pr ON pr.id = s.provider_id
		WHERE s.status = 'available' AND s.start_time > now()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref slotRef
		if err := rows.Scan(&ref.ID, &ref.PracticeID); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, ref)
	}

	rows, err = pool.Query(ctx, `
		SELECT e.id, w.practice_id
		FROM waitlist_entries e
		JOIN waitlists w ON w.id = e.waitlist_id
		WHERE e.status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryID, practiceID uuid.UUID
		if err := rows.Scan(&entryID, &practiceID); err != nil {
			return nil, err
		}
		dataPool.EntriesByPractice[practiceID] = append(dataPool.EntriesByPractice[practiceID], entryID)
	}

	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded")
	}
	if len(dataPool.EntriesByPractice) == 0 {
		return nil, fmt.Errorf("no active waitlist entries loaded")
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
			if r < s.config.AllocateRatio {
				s.doAllocate(ctx, rng)
			} else if r < s.config.AllocateRatio+s.config.CandidateRatio {
				s.doCandidates(ctx, rng)
			} else {
				s.doPosition(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doAllocate(ctx context.Context, rng *rand.Rand) {
	slotID, entryID, ok := s.pool.randomPair(rng)
	if !ok {
		return
	}

	start := time.Now()

	reqBody := map[string]string{
		"slot_id":  slotID.String(),
		"entry_id": entryID.String(),
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/allocations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Allocate.Record(latency, success, conflict)
}

func (s *Simulator) doCandidates(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Slots) == 0 {
		return
	}
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/slots/%s/candidates", s.config.APIBaseURL, slot.ID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Candidates.Record(latency, success, false)
}

func (s *Simulator) doPosition(ctx context.Context, rng *rand.Rand) {
	// Any practice's entry list will do.
	var entryID uuid.UUID
	for _, entries := range s.pool.EntriesByPractice {
		if len(entries) > 0 {
			entryID = entries[rng.Intn(len(entries))]
			break
		}
	}
	if entryID == uuid.Nil {
		return
	}

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/waitlist-entries/%s/position", s.config.APIBaseURL, entryID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		// Entries consumed by a concurrent allocation drop out of the
		// active set; 404 is expected churn, not an error.
		success = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound
	}

	s.metrics.Position.Record(latency, success, conflict)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Allocate", &s.metrics.Allocate)
	printOperationReport("Rank candidates", &s.metrics.Candidates)
	printOperationReport("Position", &s.metrics.Position)

	allocSuccess := atomic.LoadInt64(&s.metrics.Allocate.Success)
	if allocSuccess > int64(len(s.pool.Slots)) {
		fmt.Printf("WARNING: %d successful allocations exceed the %d contended slots, double booking!\n",
			allocSuccess, len(s.pool.Slots))
	}
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
