package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
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

	"github.com/hackgods/dental-patient-flow/internal/config"
	"github.com/hackgods/dental-patient-flow/internal/db"
	"github.com/hackgods/dental-patient-flow/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	CheckInRatio   float64
	AssignRatio    float64
	CompleteRatio  float64
	ReadRatio      float64
	AppointmentCap int
	Locations      []string
	PostgresDSN    string
}

// DataPool holds the visit codes still to check in and the entries the
// simulator has seen go into treatment.
type DataPool struct {
	mu          sync.Mutex
	visitCodes  []string
	inTreatment map[uuid.UUID]uuid.UUID // entry id -> room id
	roomHolder  map[uuid.UUID]uuid.UUID // room id -> entry id
}

func (dp *DataPool) TakeVisitCode(rng *rand.Rand) (string, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.visitCodes) == 0 {
		return "", false
	}
	i := rng.Intn(len(dp.visitCodes))
	code := dp.visitCodes[i]
	dp.visitCodes[i] = dp.visitCodes[len(dp.visitCodes)-1]
	dp.visitCodes = dp.visitCodes[:len(dp.visitCodes)-1]
	return code, true
}

// Assigned records a room binding and reports whether another entry the
// simulator still considers in treatment already held the room.
func (dp *DataPool) Assigned(entryID, roomID uuid.UUID) bool {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	holder, taken := dp.roomHolder[roomID]
	dp.inTreatment[entryID] = roomID
	dp.roomHolder[roomID] = entryID
	return taken && holder != entryID
}

// TakeInTreatment removes a random in-treatment entry before it is
// completed, so the room is free in our view before the server frees it.
func (dp *DataPool) TakeInTreatment(rng *rand.Rand) (uuid.UUID, uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.inTreatment) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	n := rng.Intn(len(dp.inTreatment))
	for entryID, roomID := range dp.inTreatment {
		if n == 0 {
			delete(dp.inTreatment, entryID)
			if dp.roomHolder[roomID] == entryID {
				delete(dp.roomHolder, roomID)
			}
			return entryID, roomID, true
		}
		n--
	}
	return uuid.Nil, uuid.Nil, false
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
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	CheckIn  OperationMetrics
	Assign   OperationMetrics
	Complete OperationMetrics
	Stats    OperationMetrics

	EmptyAssigns     int64
	DoubleAssignment int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *slog.Logger
}

func main() {
	cfg, baseCfg := loadConfig()
	logger := logging.New(baseCfg, "simulate")
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("simulator starting",
		slog.Duration("duration", cfg.Duration),
		slog.Int("workers", cfg.Workers),
		slog.Any("locations", cfg.Locations),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, baseCfg.Timezone)
	if err != nil {
		logger.Error("load data pool", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("loaded visit codes", slog.Int("count", len(dataPool.visitCodes)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()

	violations, err := checkInvariants(context.Background(), pgPool)
	if err != nil {
		logger.Error("invariant check", slog.Any("error", err))
	}
	sim.PrintReport(violations)
}

func loadConfig() (SimConfig, config.Config) {
	baseCfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load base config", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		CheckInRatio:   getFloat("SIM_CHECKIN_RATIO", 0.3),
		AssignRatio:    getFloat("SIM_ASSIGN_RATIO", 0.3),
		CompleteRatio:  getFloat("SIM_COMPLETE_RATIO", 0.2),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.2),
		AppointmentCap: getInt("SIM_APPOINTMENT_LIMIT", 2000),
		Locations:      baseCfg.Locations,
		PostgresDSN:    baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.CheckInRatio + cfg.AssignRatio + cfg.CompleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.CheckInRatio /= total
		cfg.AssignRatio /= total
		cfg.CompleteRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, baseCfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, tz *time.Location) (*DataPool, error) {
	y, m, d := time.Now().In(tz).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	rows, err := pool.Query(ctx, `
		SELECT visit_code FROM appointments
		WHERE appointment_date = $1
		  AND location = ANY($2)
		  AND status IN ('booked', 'confirmed')
		LIMIT $3
	`, today, cfg.Locations, cfg.AppointmentCap)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	defer rows.Close()

	dp := &DataPool{
		inTreatment: make(map[uuid.UUID]uuid.UUID),
		roomHolder:  make(map[uuid.UUID]uuid.UUID),
	}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		dp.visitCodes = append(dp.visitCodes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.visitCodes) == 0 {
		return nil, fmt.Errorf("no appointments to check in today, run seed first")
	}
	return dp, nil
}

// checkInvariants looks for resource double booking left in the database.
func checkInvariants(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	queries := map[string]string{
		"room held by more than one patient": `
			SELECT count(*) FROM (
				SELECT room_id FROM queue_entries WHERE queue_status = 'in_treatment'
				GROUP BY room_id HAVING count(*) > 1) d`,
		"dentist held by more than one patient": `
			SELECT count(*) FROM (
				SELECT dentist_id FROM queue_entries WHERE queue_status = 'in_treatment'
				GROUP BY dentist_id HAVING count(*) > 1) d`,
		"occupied room without patient": `
			SELECT count(*) FROM rooms r
			WHERE r.status = 'occupied' AND NOT EXISTS (
				SELECT 1 FROM queue_entries q WHERE q.room_id = r.id AND q.queue_status = 'in_treatment')`,
		"busy dentist without patient": `
			SELECT count(*) FROM dentists d
			WHERE NOT d.available AND NOT EXISTS (
				SELECT 1 FROM queue_entries q WHERE q.dentist_id = d.id AND q.queue_status = 'in_treatment')`,
	}

	var violations []string
	for name, q := range queries {
		var n int
		if err := pool.QueryRow(ctx, q).Scan(&n); err != nil {
			return violations, fmt.Errorf("%s: %w", name, err)
		}
		if n > 0 {
			violations = append(violations, fmt.Sprintf("%s: %d", name, n))
		}
	}
	sort.Strings(violations)
	return violations, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		location := s.config.Locations[rng.Intn(len(s.config.Locations))]
		r := rng.Float64()
		switch {
		case r < s.config.CheckInRatio:
			s.doCheckIn(ctx, rng)
		case r < s.config.CheckInRatio+s.config.AssignRatio:
			s.doAssign(ctx, location)
		case r < s.config.CheckInRatio+s.config.AssignRatio+s.config.CompleteRatio:
			s.doComplete(ctx, rng)
		default:
			s.doStats(ctx, location)
		}
	}
}

func (s *Simulator) doCheckIn(ctx context.Context, rng *rand.Rand) {
	code, ok := s.pool.TakeVisitCode(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.post(ctx, "/check-ins", map[string]string{"visit_code": code})
	s.metrics.CheckIn.Record(time.Since(start), err == nil && status < 300, status == http.StatusConflict)
}

func (s *Simulator) doAssign(ctx context.Context, location string) {
	start := time.Now()
	status, body, err := s.post(ctx, "/locations/"+location+"/queue/assign", nil)
	latency := time.Since(start)

	if err != nil || status != http.StatusOK {
		s.metrics.Assign.Record(latency, false, status == http.StatusConflict)
		return
	}

	var resp struct {
		Assigned bool `json:"assigned"`
		Entry    *struct {
			ID     uuid.UUID  `json:"id"`
			RoomID *uuid.UUID `json:"room_id"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		s.metrics.Assign.Record(latency, false, false)
		return
	}
	s.metrics.Assign.Record(latency, true, false)

	if !resp.Assigned || resp.Entry == nil || resp.Entry.RoomID == nil {
		atomic.AddInt64(&s.metrics.EmptyAssigns, 1)
		return
	}
	if s.pool.Assigned(resp.Entry.ID, *resp.Entry.RoomID) {
		atomic.AddInt64(&s.metrics.DoubleAssignment, 1)
		s.logger.Error("room handed out twice", slog.String("room_id", resp.Entry.RoomID.String()))
	}
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	entryID, roomID, ok := s.pool.TakeInTreatment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, body, err := s.post(ctx, "/queue/"+entryID.String()+"/complete", nil)
	latency := time.Since(start)
	if err != nil || status != http.StatusOK {
		s.pool.Assigned(entryID, roomID)
		s.metrics.Complete.Record(latency, false, status == http.StatusConflict)
		return
	}
	s.metrics.Complete.Record(latency, true, false)

	// completion may have pulled the next patient into the freed room
	var resp struct {
		Next *struct {
			ID     uuid.UUID  `json:"id"`
			RoomID *uuid.UUID `json:"room_id"`
		} `json:"next"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Next != nil && resp.Next.RoomID != nil {
		if s.pool.Assigned(resp.Next.ID, *resp.Next.RoomID) {
			atomic.AddInt64(&s.metrics.DoubleAssignment, 1)
		}
	}
}

func (s *Simulator) doStats(ctx context.Context, location string) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/locations/"+location+"/queue/stats", nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Stats.Record(latency, success, false)
}

func (s *Simulator) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return 0, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, &body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, out.Bytes(), nil
}

func (s *Simulator) PrintReport(violations []string) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Check-in", &s.metrics.CheckIn)
	printOperationReport("Assign", &s.metrics.Assign)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Queue stats", &s.metrics.Stats)

	fmt.Printf("Assign calls with nothing to do: %d\n", atomic.LoadInt64(&s.metrics.EmptyAssigns))
	fmt.Printf("Double assignments seen by client: %d\n", atomic.LoadInt64(&s.metrics.DoubleAssignment))
	if len(violations) == 0 {
		fmt.Println("Resource invariants: ok")
		return
	}
	fmt.Println("Resource invariants violated:")
	for _, v := range violations {
		fmt.Printf("  %s\n", v)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

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

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
