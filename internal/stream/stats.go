package stream

import (
	"sync"
	"time"
)

const latencySamples = 1000

// Stats is the process-wide throughput and latency accounting shared by all
// shards.
type Stats struct {
	mu  sync.Mutex
	now func() time.Time

	startedAt time.Time
	processed int64

	latencies [latencySamples]time.Duration
	latHead   int
	latCount  int
	latTotal  time.Duration

	lastRate      time.Time
	sinceLastRate int64
	throughput    float64
}

type StatsSnapshot struct {
	Uptime            time.Duration
	Processed         int64
	AvgThroughput     float64
	CurrentThroughput float64
	AvgLatency        time.Duration
}

func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Stats{now: now, startedAt: t, lastRate: t}
}

// Record accounts one processed record. It reports whether the current
// throughput figure was recomputed, which happens at most once per second.
func (s *Stats) Record(latency time.Duration) (throughput float64, updated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latCount == latencySamples {
		s.latTotal -= s.latencies[s.latHead]
	} else {
		s.latCount++
	}
	s.latencies[s.latHead] = latency
	s.latTotal += latency
	s.latHead = (s.latHead + 1) % latencySamples

	s.processed++
	s.sinceLastRate++

	now := s.now()
	if elapsed := now.Sub(s.lastRate); elapsed >= time.Second {
		s.throughput = float64(s.sinceLastRate) / elapsed.Seconds()
		s.sinceLastRate = 0
		s.lastRate = now
		return s.throughput, true
	}
	return s.throughput, false
}

func (s *Stats) AvgLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgLatencyLocked()
}

func (s *Stats) avgLatencyLocked() time.Duration {
	if s.latCount == 0 {
		return 0
	}
	return s.latTotal / time.Duration(s.latCount)
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	uptime := s.now().Sub(s.startedAt)
	var avg float64
	if uptime > 0 {
		avg = float64(s.processed) / uptime.Seconds()
	}
	return StatsSnapshot{
		Uptime:            uptime,
		Processed:         s.processed,
		AvgThroughput:     avg,
		CurrentThroughput: s.throughput,
		AvgLatency:        s.avgLatencyLocked(),
	}
}
