package stream

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/metrics"
)

type job struct {
	rec   domain.TelemetryRecord
	reply chan reply
}

type reply struct {
	res domain.Result
	err error
}

// shard is the single writer for every car hashed onto it. Its detector,
// scorer and ordering tables are only touched from run.
type shard struct {
	id   int
	p    *Processor
	jobs chan job

	detector *AnomalyDetector
	scorer   *PitStopScorer
	latest   map[string]time.Time // newest accepted record timestamp
	seen     map[string]time.Time // wall clock of last record
	tracked  atomic.Int64
}

func newShard(id int, p *Processor) *shard {
	return &shard{
		id:       id,
		p:        p,
		jobs:     make(chan job, p.cfg.QueueSize),
		detector: NewAnomalyDetector(p.cfg.Detector),
		scorer:   NewPitStopScorer(),
		latest:   make(map[string]time.Time),
		seen:     make(map[string]time.Time),
	}
}

func (s *shard) run() {
	var sweep <-chan time.Time
	if s.p.cfg.IdleTTL > 0 {
		ticker := time.NewTicker(s.p.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			res, err := s.handle(&j.rec)
			if err == nil {
				s.p.observe(&res)
			}
			j.reply <- reply{res: res, err: err}

		case <-sweep:
			s.evictIdle()
		}
	}
}

func (s *shard) handle(rec *domain.TelemetryRecord) (res domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			// The car's windows may be half updated; start it over.
			s.forget(rec.CarID)
			s.p.log.Error("record processing panicked",
				slog.String("car_id", rec.CarID),
				slog.Int("lap", rec.Lap),
				slog.Int("shard", s.id),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("%w: car %s: %v", domain.ErrInternal, rec.CarID, r)
		}
	}()

	start := time.Now()

	last, known := s.latest[rec.CarID]
	if known && rec.Timestamp.Before(last) {
		return res, fmt.Errorf("%w: car %s sent %s after %s", domain.ErrOutOfOrder,
			rec.CarID, rec.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
	if !known {
		s.tracked.Add(1)
	}
	s.latest[rec.CarID] = rec.Timestamp
	s.seen[rec.CarID] = s.p.cfg.Now()

	anomalies := s.detector.Detect(rec)
	pitstop := s.scorer.Score(rec, anomalies)

	return domain.Result{
		Record:         *rec,
		Anomalies:      anomalies,
		PitStop:        pitstop,
		ProcessingTime: time.Since(start),
	}, nil
}

func (s *shard) evictIdle() {
	cutoff := s.p.cfg.Now().Add(-s.p.cfg.IdleTTL)
	evicted := 0
	for carID, seen := range s.seen {
		if seen.Before(cutoff) {
			s.forget(carID)
			evicted++
		}
	}
	if evicted == 0 {
		return
	}
	metrics.EntitiesEvicted.Add(float64(evicted))
	metrics.TrackedEntities.Set(float64(s.p.TrackedEntities()))
	metrics.ActiveAnomalies.Set(float64(s.p.ActiveAnomalies()))
	s.p.log.Debug("evicted idle cars", slog.Int("shard", s.id), slog.Int("count", evicted))
}

func (s *shard) forget(carID string) {
	if _, ok := s.latest[carID]; ok {
		s.tracked.Add(-1)
	}
	s.detector.Forget(carID)
	s.scorer.Forget(carID)
	delete(s.latest, carID)
	delete(s.seen, carID)
	metrics.PitStopScore.DeleteLabelValues(carID)
}
