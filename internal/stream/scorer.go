package stream

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"f1-telemetry/stream-processor/internal/domain"
)

const (
	historySize     = 100
	speedTrendDepth = 10

	brakeTempFloorC = 250.0
	brakeTempCeilC  = 950.0

	weightTireWear   = 0.40
	weightSpeedLoss  = 0.30
	weightBrake      = 0.20
	weightAnomaly    = 0.10
	pointsPerAnomaly = 25.0
	speedLossGain    = 5.0
)

// speedHistory is a fixed ring of the last historySize speeds of one car.
type speedHistory struct {
	buf   [historySize]float64
	start int
	n     int
}

func (h *speedHistory) push(v float64) {
	if h.n < historySize {
		h.buf[(h.start+h.n)%historySize] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % historySize
}

// at returns the i-th oldest retained speed.
func (h *speedHistory) at(i int) float64 {
	return h.buf[(h.start+i)%historySize]
}

// PitStopScorer combines tire wear, speed trend, brake temperature and fresh
// anomalies into one urgency score. Like AnomalyDetector it belongs to a
// single shard goroutine.
type PitStopScorer struct {
	history map[string]*speedHistory
}

func NewPitStopScorer() *PitStopScorer {
	return &PitStopScorer{history: make(map[string]*speedHistory)}
}

func (s *PitStopScorer) Score(rec *domain.TelemetryRecord, anomalies []domain.AnomalyEvent) domain.PitStopRecommendation {
	h, ok := s.history[rec.CarID]
	if !ok {
		h = &speedHistory{}
		s.history[rec.CarID] = h
	}
	h.push(rec.SpeedKmh)

	tireWear := rec.TireWearPct
	speedLoss := speedLossFactor(h)
	brake := brakeDegradation(rec)
	anomaly := math.Min(100, pointsPerAnomaly*float64(len(anomalies)))

	score := round2(tireWear*weightTireWear +
		speedLoss*weightSpeedLoss +
		brake*weightBrake +
		anomaly*weightAnomaly)

	urgency, text := Classify(score)
	return domain.PitStopRecommendation{
		CarID:            rec.CarID,
		Lap:              rec.Lap,
		Score:            score,
		TireWear:         round2(tireWear),
		SpeedLoss:        round2(speedLoss),
		BrakeDegradation: round2(brake),
		AnomalyFactor:    round2(anomaly),
		Recommendation:   text,
		Urgency:          urgency,
	}
}

// Classify maps a rounded composite score onto its urgency tier.
func Classify(score float64) (domain.Urgency, string) {
	switch {
	case score >= 90:
		return domain.UrgencyCritical, domain.RecommendationCritical
	case score >= 75:
		return domain.UrgencyHigh, domain.RecommendationHigh
	case score >= 50:
		return domain.UrgencyMedium, domain.RecommendationMedium
	default:
		return domain.UrgencyLow, domain.RecommendationLow
	}
}

func speedLossFactor(h *speedHistory) float64 {
	if h.n < speedTrendDepth {
		return 0
	}
	var early, recent [speedTrendDepth]float64
	for i := 0; i < speedTrendDepth; i++ {
		early[i] = h.at(i)
		recent[i] = h.at(h.n - speedTrendDepth + i)
	}
	earlyAvg := stat.Mean(early[:], nil)
	if earlyAvg == 0 {
		return 0
	}
	recentAvg := stat.Mean(recent[:], nil)

	lossPct := (earlyAvg - recentAvg) / earlyAvg * 100
	return clamp(lossPct*speedLossGain, 0, 100)
}

func brakeDegradation(rec *domain.TelemetryRecord) float64 {
	avg := rec.AvgBrakeTempC()
	return clamp((avg-brakeTempFloorC)/(brakeTempCeilC-brakeTempFloorC)*100, 0, 100)
}

func (s *PitStopScorer) Forget(carID string) {
	delete(s.history, carID)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
