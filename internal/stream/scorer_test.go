package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"f1-telemetry/stream-processor/internal/domain"
)

func TestScoreComponents(t *testing.T) {
	s := NewPitStopScorer()
	rec := coolRecord("16", t0)

	rec.BrakeTempC = [4]float64{600, 600, 600, 600}
	rec.TireWearPct = 40
	anomalies := []domain.AnomalyEvent{{Kind: domain.BrakeOverheat(domain.FrontLeft)}}

	got := s.Score(&rec, anomalies)

	assert.Equal(t, "16", got.CarID)
	assert.Equal(t, 12, got.Lap)
	assert.Equal(t, 40.0, got.TireWear)
	assert.Equal(t, 0.0, got.SpeedLoss)
	assert.Equal(t, 50.0, got.BrakeDegradation)
	assert.Equal(t, 25.0, got.AnomalyFactor)
	// 40*0.4 + 0*0.3 + 50*0.2 + 25*0.1
	assert.Equal(t, 28.5, got.Score)
	assert.Equal(t, domain.UrgencyLow, got.Urgency)
	assert.Equal(t, domain.RecommendationLow, got.Recommendation)
}

func TestScoreSpeedLossNeedsTenSamples(t *testing.T) {
	s := NewPitStopScorer()
	var last domain.PitStopRecommendation
	for i := 0; i < 9; i++ {
		rec := coolRecord("16", t0.Add(time.Duration(i)*time.Second))
		rec.SpeedKmh = 300 - float64(i)*10
		last = s.Score(&rec, nil)
	}
	assert.Equal(t, 0.0, last.SpeedLoss)
}

func TestScoreSpeedLossGrowsAsCarSlows(t *testing.T) {
	s := NewPitStopScorer()
	i := 0
	score := func(speed float64) domain.PitStopRecommendation {
		rec := coolRecord("16", t0.Add(time.Duration(i)*time.Second))
		rec.SpeedKmh = speed
		i++
		return s.Score(&rec, nil)
	}

	for n := 0; n < 10; n++ {
		score(300)
	}
	var at270 domain.PitStopRecommendation
	for n := 0; n < 10; n++ {
		at270 = score(270)
	}
	// 10% slower, times five.
	assert.InDelta(t, 50.0, at270.SpeedLoss, 1e-9)

	var at260 domain.PitStopRecommendation
	for n := 0; n < 10; n++ {
		at260 = score(260)
	}
	assert.GreaterOrEqual(t, at260.SpeedLoss, at270.SpeedLoss)
	assert.LessOrEqual(t, at260.SpeedLoss, 100.0)
}

func TestScoreSpeedLossIgnoresStationaryStart(t *testing.T) {
	s := NewPitStopScorer()
	var last domain.PitStopRecommendation
	for n := 0; n < 12; n++ {
		rec := coolRecord("16", t0.Add(time.Duration(n)*time.Second))
		rec.SpeedKmh = 0
		if n >= 10 {
			rec.SpeedKmh = 120
		}
		last = s.Score(&rec, nil)
	}
	assert.Equal(t, 0.0, last.SpeedLoss)
}

func TestScoreStaysWithinBounds(t *testing.T) {
	s := NewPitStopScorer()
	rec := coolRecord("16", t0)
	rec.TireWearPct = 100
	rec.BrakeTempC = [4]float64{2000, 2000, 2000, 2000}
	anomalies := make([]domain.AnomalyEvent, 8)

	got := s.Score(&rec, anomalies)
	assert.Equal(t, 100.0, got.AnomalyFactor)
	assert.Equal(t, 100.0, got.BrakeDegradation)
	assert.GreaterOrEqual(t, got.Score, 0.0)
	assert.LessOrEqual(t, got.Score, 100.0)

	rec.BrakeTempC = [4]float64{20, 20, 20, 20}
	rec.TireWearPct = 0
	got = s.Score(&rec, nil)
	assert.Equal(t, 0.0, got.BrakeDegradation)
	assert.GreaterOrEqual(t, got.Score, 0.0)
}

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.Urgency
		text  string
	}{
		{100, domain.UrgencyCritical, domain.RecommendationCritical},
		{90.00, domain.UrgencyCritical, domain.RecommendationCritical},
		{89.99, domain.UrgencyHigh, domain.RecommendationHigh},
		{75, domain.UrgencyHigh, domain.RecommendationHigh},
		{74.99, domain.UrgencyMedium, domain.RecommendationMedium},
		{50, domain.UrgencyMedium, domain.RecommendationMedium},
		{49.99, domain.UrgencyLow, domain.RecommendationLow},
		{0, domain.UrgencyLow, domain.RecommendationLow},
	}
	for _, tt := range tests {
		urgency, text := Classify(tt.score)
		assert.Equal(t, tt.want, urgency, "score %.2f", tt.score)
		assert.Equal(t, tt.text, text, "score %.2f", tt.score)
	}
}

func TestSpeedHistoryKeepsLastHundred(t *testing.T) {
	var h speedHistory
	for i := 0; i < 150; i++ {
		h.push(float64(i))
	}
	require.Equal(t, historySize, h.n)
	assert.Equal(t, 50.0, h.at(0))
	assert.Equal(t, 149.0, h.at(historySize-1))
}

func TestScorerForget(t *testing.T) {
	s := NewPitStopScorer()
	for n := 0; n < 20; n++ {
		rec := coolRecord("16", t0.Add(time.Duration(n)*time.Second))
		rec.SpeedKmh = 300 - float64(n)*5
		s.Score(&rec, nil)
	}
	s.Forget("16")

	rec := coolRecord("16", t0.Add(time.Minute))
	assert.Equal(t, 0.0, s.Score(&rec, nil).SpeedLoss)
}
