package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/metrics"
)

var ts0 = time.Date(2024, 5, 26, 14, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func result(carID string, lap int, anomalies ...domain.AnomalyEvent) *domain.Result {
	return &domain.Result{
		Record:    domain.TelemetryRecord{CarID: carID, Lap: lap, Timestamp: ts0.Add(time.Duration(lap) * time.Second)},
		Anomalies: anomalies,
		PitStop:   domain.PitStopRecommendation{CarID: carID, Lap: lap, Score: float64(lap)},
	}
}

func anomaly(carID string, kind domain.AnomalyKind) domain.AnomalyEvent {
	return domain.AnomalyEvent{
		Timestamp: ts0,
		CarID:     carID,
		Kind:      kind,
		Severity:  domain.SeverityCritical,
		Value:     960,
		Threshold: 950,
		Duration:  2 * time.Second,
		Message:   "CRITIQUE",
	}
}

func TestDispatcherFansOutAndCountsDrops(t *testing.T) {
	d := NewDispatcher()
	fast := d.AddSink("test_fast", 4)
	slow := d.AddSink("test_slow", 1)

	before := testutil.ToFloat64(metrics.SinkDrops.WithLabelValues("test_slow"))
	for lap := 1; lap <= 3; lap++ {
		d.Dispatch(result("16", lap))
	}

	assert.Len(t, fast, 3)
	assert.Len(t, slow, 1)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.SinkDrops.WithLabelValues("test_slow")))

	d.Close()
	d.Close()
	d.Dispatch(result("16", 4))

	var laps []int
	for res := range fast {
		laps = append(laps, res.Record.Lap)
	}
	assert.Equal(t, []int{1, 2, 3}, laps)
}

type fakeSummaryStore struct {
	mu      sync.Mutex
	batches [][]*domain.Result
	fail    int
}

func (f *fakeSummaryStore) BatchInsert(_ context.Context, results []*domain.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("connection reset")
	}
	f.batches = append(f.batches, append([]*domain.Result(nil), results...))
	return nil
}

func (f *fakeSummaryStore) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestDBWriterFlushesFullBatchesAndRemainderOnClose(t *testing.T) {
	ch := make(chan *domain.Result, 10)
	db := &fakeSummaryStore{}
	w := NewDBWriter(ch, db, discardLogger(), 3, 60_000)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	for lap := 1; lap <= 7; lap++ {
		ch <- result("16", lap)
	}
	close(ch)
	<-done

	require.Len(t, db.batches, 3)
	assert.Len(t, db.batches[0], 3)
	assert.Len(t, db.batches[1], 3)
	assert.Len(t, db.batches[2], 1)
}

func TestDBWriterFlushesOnTicker(t *testing.T) {
	ch := make(chan *domain.Result, 10)
	db := &fakeSummaryStore{}
	w := NewDBWriter(ch, db, discardLogger(), 100, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ch <- result("16", 1)
	ch <- result("55", 1)
	require.Eventually(t, func() bool { return db.rows() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDBWriterRetriesOnce(t *testing.T) {
	db := &fakeSummaryStore{fail: 1}
	w := NewDBWriter(nil, db, discardLogger(), 10, 10)
	w.retryDelay = time.Millisecond

	before := testutil.ToFloat64(metrics.DBWriteSuccess)
	w.flush(context.Background(), []*domain.Result{result("16", 1), result("16", 2)})
	assert.Equal(t, 2, db.rows())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.DBWriteSuccess))

	db.fail = 2
	failedBefore := testutil.ToFloat64(metrics.DBWriteFailures)
	w.flush(context.Background(), []*domain.Result{result("16", 3)})
	assert.Equal(t, 2, db.rows())
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.DBWriteFailures))
}

type fakeStateStore struct {
	mu      sync.Mutex
	updates []*domain.Result
}

func (f *fakeStateStore) PipelineStateUpdate(_ context.Context, res *domain.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, res)
	return nil
}

func TestStateWriterKeepsLatestPerCar(t *testing.T) {
	store := &fakeStateStore{}
	w := NewStateWriter(nil, store, discardLogger())

	w.flushBatch(context.Background(), []*domain.Result{
		result("16", 1), result("55", 1), result("16", 2), result("16", 3),
	})

	require.Len(t, store.updates, 2)
	assert.Equal(t, "16", store.updates[0].Record.CarID)
	assert.Equal(t, 3, store.updates[0].Record.Lap)
	assert.Equal(t, "55", store.updates[1].Record.CarID)
}

func TestStateWriterDrainsOnClose(t *testing.T) {
	ch := make(chan *domain.Result, 4)
	store := &fakeStateStore{}
	w := NewStateWriter(ch, store, discardLogger())

	ch <- result("16", 1)
	ch <- result("16", 2)
	close(ch)
	w.Run(context.Background())

	require.Len(t, store.updates, 1)
	assert.Equal(t, 2, store.updates[0].Record.Lap)
}

type fakeAlertStore struct {
	inserted []domain.AnomalyEvent
}

func (f *fakeAlertStore) InsertAnomaly(_ context.Context, ev domain.AnomalyEvent) error {
	f.inserted = append(f.inserted, ev)
	return nil
}

type fakeAlertBus struct {
	claimed   map[string]bool
	published map[string][][]byte
}

func newFakeAlertBus() *fakeAlertBus {
	return &fakeAlertBus{claimed: map[string]bool{}, published: map[string][][]byte{}}
}

func (f *fakeAlertBus) ClaimAlert(_ context.Context, carID string, kind domain.AnomalyKind) (bool, error) {
	key := carID + "/" + string(kind)
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeAlertBus) PublishAlert(_ context.Context, carID string, payload []byte) error {
	f.published[carID] = append(f.published[carID], payload)
	return nil
}

func TestAlertWriterDeduplicatesAndPublishes(t *testing.T) {
	ch := make(chan *domain.Result, 4)
	db := &fakeAlertStore{}
	bus := newFakeAlertBus()
	w := NewAlertWriter(ch, db, bus, discardLogger())

	fl := domain.BrakeOverheat(domain.FrontLeft)
	rr := domain.TireOverheat(domain.RearRight)
	ch <- result("16", 1, anomaly("16", fl))
	ch <- result("16", 2, anomaly("16", fl), anomaly("16", rr))
	ch <- result("55", 2, anomaly("55", fl))
	ch <- result("16", 3)
	close(ch)
	w.Run(context.Background())

	require.Len(t, db.inserted, 3)
	require.Len(t, bus.published["16"], 2)
	require.Len(t, bus.published["55"], 1)

	var alert map[string]any
	require.NoError(t, json.Unmarshal(bus.published["16"][0], &alert))
	assert.Equal(t, "brake_overheat_fl", alert["anomaly_type"])
	assert.Equal(t, "critical", alert["severity"])
	assert.Equal(t, 960.0, alert["value"])
	assert.Equal(t, "2024-05-26T14:00:00Z", alert["triggered_at"])
}

func TestAlertWriterWithoutBus(t *testing.T) {
	ch := make(chan *domain.Result, 2)
	db := &fakeAlertStore{}
	w := NewAlertWriter(ch, db, nil, discardLogger())

	fl := domain.BrakeOverheat(domain.FrontLeft)
	ch <- result("16", 1, anomaly("16", fl))
	ch <- result("16", 2, anomaly("16", fl))
	close(ch)
	w.Run(context.Background())

	// Without a bus there is no dedup; the table's unique key absorbs repeats.
	assert.Len(t, db.inserted, 2)
}
