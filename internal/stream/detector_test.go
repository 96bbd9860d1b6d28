package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"f1-telemetry/stream-processor/internal/domain"
)

func TestDetectorSustainedBrakeOverheat(t *testing.T) {
	d := NewAnomalyDetector(DefaultDetectorConfig())

	var got [][]domain.AnomalyEvent
	for i := 0; i < 3; i++ {
		rec := coolRecord("16", t0.Add(time.Duration(i)*time.Second))
		rec.BrakeTempC[domain.FrontLeft] = 960
		got = append(got, d.Detect(&rec))
	}

	assert.Empty(t, got[0])
	assert.Empty(t, got[1])
	require.Len(t, got[2], 1)

	ev := got[2][0]
	assert.Equal(t, domain.AnomalyKind("brake_overheat_fl"), ev.Kind)
	assert.Equal(t, domain.SeverityCritical, ev.Severity)
	assert.Equal(t, 960.0, ev.Value)
	assert.Equal(t, 950.0, ev.Threshold)
	assert.Equal(t, 2*time.Second, ev.Duration)
	assert.Equal(t, "CRITIQUE: Frein FL en surchauffe (960.0°C > 950.0°C) pendant 2.0s", ev.Message)
	assert.Equal(t, 1, d.ActiveCount())
}

func TestDetectorSpikeIsNotAnomaly(t *testing.T) {
	d := NewAnomalyDetector(DefaultDetectorConfig())

	temps := []float64{960, 800, 960}
	for i, temp := range temps {
		rec := coolRecord("16", t0.Add(time.Duration(i)*time.Second))
		rec.BrakeTempC[domain.RearRight] = temp
		assert.Empty(t, d.Detect(&rec), "sample %d", i)
	}
	assert.Equal(t, 0, d.ActiveCount())
}

func TestDetectorTireOverheatEveryCorner(t *testing.T) {
	d := NewAnomalyDetector(DefaultDetectorConfig())

	var last []domain.AnomalyEvent
	for i := 0; i < 3; i++ {
		rec := coolRecord("55", t0.Add(time.Duration(i)*time.Second))
		rec.TireTempC = [4]float64{135, 135, 135, 135}
		last = d.Detect(&rec)
	}

	require.Len(t, last, 4)
	for i, pos := range domain.Positions {
		assert.Equal(t, domain.TireOverheat(pos), last[i].Kind)
	}
	assert.Contains(t, last[3].Message, "Pneu RR")
}

func TestDetectorPrunesActiveEvents(t *testing.T) {
	cfg := DefaultDetectorConfig()
	d := NewAnomalyDetector(cfg)

	for i := 0; i < 3; i++ {
		rec := coolRecord("16", t0.Add(time.Duration(i)*time.Second))
		rec.BrakeTempC[domain.FrontLeft] = 960
		d.Detect(&rec)
	}
	require.Len(t, d.ActiveFor("16"), 1)

	// Exactly at the retention boundary the event is dropped.
	rec := coolRecord("16", t0.Add(2*time.Second+cfg.ActiveRetention))
	assert.Empty(t, d.Detect(&rec))
	assert.Empty(t, d.ActiveFor("16"))
	assert.Equal(t, 0, d.ActiveCount())
}

func TestDetectorForget(t *testing.T) {
	d := NewAnomalyDetector(DefaultDetectorConfig())

	for i := 0; i < 3; i++ {
		for _, car := range []string{"16", "55"} {
			rec := coolRecord(car, t0.Add(time.Duration(i)*time.Second))
			rec.BrakeTempC[domain.FrontRight] = 990
			d.Detect(&rec)
		}
	}
	require.Equal(t, 2, d.ActiveCount())
	require.Equal(t, 2, d.Tracked())

	d.Forget("16")
	assert.Equal(t, 1, d.ActiveCount())
	assert.Equal(t, 1, d.Tracked())
	assert.Nil(t, d.ActiveFor("16"))

	d.Forget("unknown")
	assert.Equal(t, 1, d.ActiveCount())
}

func TestDetectorCarsAreIndependent(t *testing.T) {
	d := NewAnomalyDetector(DefaultDetectorConfig())

	for i := 0; i < 3; i++ {
		hot := coolRecord("16", t0.Add(time.Duration(i)*time.Second))
		hot.BrakeTempC[domain.FrontLeft] = 960
		d.Detect(&hot)

		cool := coolRecord("55", t0.Add(time.Duration(i)*time.Second))
		assert.Empty(t, d.Detect(&cool))
	}
	assert.Len(t, d.ActiveFor("16"), 1)
	assert.Empty(t, d.ActiveFor("55"))
}
