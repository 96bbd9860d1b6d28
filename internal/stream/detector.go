package stream

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"f1-telemetry/stream-processor/internal/domain"
)

type DetectorConfig struct {
	Window          time.Duration
	BrakeCriticalC  float64
	TireCriticalC   float64
	ActiveRetention time.Duration
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:          2 * time.Second,
		BrakeCriticalC:  950.0,
		TireCriticalC:   130.0,
		ActiveRetention: 60 * time.Second,
	}
}

type carWindows struct {
	brakes [4]*SlidingWindow
	tires  [4]*SlidingWindow
	active []domain.AnomalyEvent
}

// AnomalyDetector flags brake and tire temperatures that stay above their
// critical threshold for a whole detection window. It is not safe for
// concurrent Detect calls; the processor gives each shard its own detector.
// ActiveCount may be read from any goroutine.
type AnomalyDetector struct {
	cfg    DetectorConfig
	cars   map[string]*carWindows
	active atomic.Int64
}

func NewAnomalyDetector(cfg DetectorConfig) *AnomalyDetector {
	return &AnomalyDetector{
		cfg:  cfg,
		cars: make(map[string]*carWindows),
	}
}

func (d *AnomalyDetector) windowsFor(carID string) *carWindows {
	cw, ok := d.cars[carID]
	if ok {
		return cw
	}
	cw = &carWindows{}
	for i := range cw.brakes {
		cw.brakes[i] = NewSlidingWindow(d.cfg.Window)
		cw.tires[i] = NewSlidingWindow(d.cfg.Window)
	}
	d.cars[carID] = cw
	return cw
}

func (d *AnomalyDetector) Detect(rec *domain.TelemetryRecord) []domain.AnomalyEvent {
	cw := d.windowsFor(rec.CarID)

	var events []domain.AnomalyEvent
	for _, pos := range domain.Positions {
		if ev, ok := d.check(rec, cw.brakes[pos], rec.BrakeTempC[pos], d.cfg.BrakeCriticalC, domain.BrakeOverheat(pos), "Frein", pos); ok {
			events = append(events, ev)
		}
	}
	for _, pos := range domain.Positions {
		if ev, ok := d.check(rec, cw.tires[pos], rec.TireTempC[pos], d.cfg.TireCriticalC, domain.TireOverheat(pos), "Pneu", pos); ok {
			events = append(events, ev)
		}
	}

	before := len(cw.active)
	cw.active = append(cw.active, events...)
	cw.active = pruneEvents(cw.active, rec.Timestamp.Add(-d.cfg.ActiveRetention))
	d.active.Add(int64(len(cw.active) - before))

	return events
}

func (d *AnomalyDetector) check(
	rec *domain.TelemetryRecord,
	w *SlidingWindow,
	value float64,
	threshold float64,
	kind domain.AnomalyKind,
	component string,
	pos domain.Position,
) (domain.AnomalyEvent, bool) {
	w.Add(rec.Timestamp, value)

	span := w.Span()
	if !w.AllAboveThreshold(threshold) || span < d.cfg.Window {
		return domain.AnomalyEvent{}, false
	}

	return domain.AnomalyEvent{
		Timestamp: rec.Timestamp,
		CarID:     rec.CarID,
		Kind:      kind,
		Severity:  domain.SeverityCritical,
		Value:     value,
		Threshold: threshold,
		Duration:  span,
		Message: fmt.Sprintf("CRITIQUE: %s %s en surchauffe (%.1f°C > %.1f°C) pendant %.1fs",
			component, strings.ToUpper(pos.String()), value, threshold, span.Seconds()),
	}, true
}

// pruneEvents keeps events strictly newer than cutoff. Events are appended in
// timestamp order so the retained ones form a suffix.
func pruneEvents(events []domain.AnomalyEvent, cutoff time.Time) []domain.AnomalyEvent {
	i := 0
	for i < len(events) && !events[i].Timestamp.After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}

func (d *AnomalyDetector) ActiveCount() int {
	return int(d.active.Load())
}

// ActiveFor returns a copy of the events still retained for a car.
func (d *AnomalyDetector) ActiveFor(carID string) []domain.AnomalyEvent {
	cw, ok := d.cars[carID]
	if !ok {
		return nil
	}
	return append([]domain.AnomalyEvent(nil), cw.active...)
}

// Forget drops all state held for a car.
func (d *AnomalyDetector) Forget(carID string) {
	cw, ok := d.cars[carID]
	if !ok {
		return
	}
	d.active.Add(-int64(len(cw.active)))
	delete(d.cars, carID)
}

func (d *AnomalyDetector) Tracked() int {
	return len(d.cars)
}
