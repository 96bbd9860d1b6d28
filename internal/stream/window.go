package stream

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// SlidingWindow keeps the samples of one signal that fall within a fixed
// duration of the most recent sample. Time is taken from the samples
// themselves, never from the wall clock.
type SlidingWindow struct {
	duration time.Duration
	times    []time.Time
	values   []float64
}

func NewSlidingWindow(duration time.Duration) *SlidingWindow {
	return &SlidingWindow{duration: duration}
}

// Add appends a sample and drops every sample older than ts - duration.
func (w *SlidingWindow) Add(ts time.Time, value float64) {
	w.times = append(w.times, ts)
	w.values = append(w.values, value)

	cutoff := ts.Add(-w.duration)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.times = w.times[i:]
		w.values = w.values[i:]
	}
}

// AllAboveThreshold is false on an empty window.
func (w *SlidingWindow) AllAboveThreshold(threshold float64) bool {
	if len(w.values) == 0 {
		return false
	}
	for _, v := range w.values {
		if v <= threshold {
			return false
		}
	}
	return true
}

func (w *SlidingWindow) Span() time.Duration {
	if len(w.times) < 2 {
		return 0
	}
	return w.times[len(w.times)-1].Sub(w.times[0])
}

func (w *SlidingWindow) Average() float64 {
	if len(w.values) == 0 {
		return 0
	}
	return stat.Mean(w.values, nil)
}

func (w *SlidingWindow) Len() int {
	return len(w.values)
}

// Oldest returns the timestamp of the oldest retained sample.
func (w *SlidingWindow) Oldest() (time.Time, bool) {
	if len(w.times) == 0 {
		return time.Time{}, false
	}
	return w.times[0], true
}
