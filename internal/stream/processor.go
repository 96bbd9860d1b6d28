package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/metrics"
)

type Config struct {
	// Shards is the number of single-writer partitions cars are hashed onto.
	Shards    int
	QueueSize int

	// IdleTTL drops a car's state after it has been silent this long. Zero keeps cars forever.
	IdleTTL       time.Duration
	SweepInterval time.Duration

	Detector DetectorConfig
	Now      func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Shards:        runtime.NumCPU(),
		QueueSize:     1024,
		IdleTTL:       10 * time.Minute,
		SweepInterval: 30 * time.Second,
		Detector:      DefaultDetectorConfig(),
		Now:           time.Now,
	}
}

// Processor runs anomaly detection and pit-stop scoring for every record.
// Records of one car are always handled by the same shard goroutine, in the
// order Process was called for them.
type Processor struct {
	cfg    Config
	log    *slog.Logger
	shards []*shard
	stats  *Stats

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewProcessor(cfg Config, log *slog.Logger) *Processor {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Detector == (DetectorConfig{}) {
		cfg.Detector = DefaultDetectorConfig()
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Processor{
		cfg:   cfg,
		log:   log,
		stats: NewStats(cfg.Now),
	}
	p.shards = make([]*shard, cfg.Shards)
	for i := range p.shards {
		p.shards[i] = newShard(i, p)
	}
	return p
}

func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.wg.Add(len(p.shards))
	for _, s := range p.shards {
		go func(s *shard) {
			defer p.wg.Done()
			s.run()
		}(s)
	}
	p.log.Info("stream processor started", slog.Int("shards", len(p.shards)))
}

// Stop refuses new records, lets queued ones finish and waits for the shards.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, s := range p.shards {
		close(s.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("stream processor stopped", slog.Int64("processed", p.stats.Snapshot().Processed))
}

// Process hands rec to its car's shard and waits for the result. ctx bounds
// only the wait; a record that was accepted by a shard is always processed.
func (p *Processor) Process(ctx context.Context, rec domain.TelemetryRecord) (domain.Result, error) {
	metrics.MessagesReceived.Inc()
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}

	j := job{rec: rec, reply: make(chan reply, 1)}
	s := p.shardFor(rec.CarID)

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return domain.Result{}, domain.ErrProcessorStopped
	}
	if !p.started {
		p.mu.RUnlock()
		return domain.Result{}, fmt.Errorf("%w: not started", domain.ErrProcessorStopped)
	}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		p.mu.RUnlock()
		return domain.Result{}, ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case r := <-j.reply:
		if r.err != nil {
			p.reject(&rec, r.err)
		}
		return r.res, r.err
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

func (p *Processor) shardFor(carID string) *shard {
	return p.shards[xxhash.Sum64String(carID)%uint64(len(p.shards))]
}

// observe runs on the shard goroutine right after a record succeeded.
func (p *Processor) observe(res *domain.Result) {
	for _, a := range res.Anomalies {
		metrics.AnomaliesDetected.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
		p.log.Warn(a.Message,
			slog.String("car_id", a.CarID),
			slog.String("anomaly_type", string(a.Kind)),
			slog.Float64("value", a.Value),
		)
	}

	pit := res.PitStop
	metrics.PitStopScore.WithLabelValues(pit.CarID).Set(pit.Score)
	if pit.Urgency.Actionable() {
		metrics.PitStopRecommendations.Inc()
		p.log.Info(pit.Recommendation,
			slog.String("car_id", pit.CarID),
			slog.Int("lap", pit.Lap),
			slog.Float64("score", pit.Score),
			slog.String("urgency", string(pit.Urgency)),
		)
	}

	metrics.ProcessingLatency.Observe(res.ProcessingTime.Seconds())
	if throughput, updated := p.stats.Record(res.ProcessingTime); updated {
		metrics.CurrentThroughput.Set(throughput)
	}
	metrics.AvgProcessingLatency.Set(float64(p.stats.AvgLatency()) / float64(time.Millisecond))
	metrics.ActiveAnomalies.Set(float64(p.ActiveAnomalies()))
	metrics.TrackedEntities.Set(float64(p.TrackedEntities()))
}

func (p *Processor) reject(rec *domain.TelemetryRecord, err error) {
	switch {
	case errors.Is(err, domain.ErrOutOfOrder):
		metrics.MessagesRejected.WithLabelValues("out_of_order").Inc()
		p.log.Debug("rejected out-of-order record", slog.String("car_id", rec.CarID), slog.Any("error", err))
	default:
		metrics.MessagesRejected.WithLabelValues("internal").Inc()
	}
}

func (p *Processor) ActiveAnomalies() int {
	n := 0
	for _, s := range p.shards {
		n += s.detector.ActiveCount()
	}
	return n
}

func (p *Processor) TrackedEntities() int {
	n := 0
	for _, s := range p.shards {
		n += int(s.tracked.Load())
	}
	return n
}

func (p *Processor) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}
