package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ferrari_messages_received_total",
		Help: "Total number of telemetry messages received",
	})
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferrari_messages_rejected_total",
		Help: "Telemetry messages rejected before or during processing",
	}, []string{"reason"})
	AnomaliesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferrari_anomalies_detected_total",
		Help: "Total number of sustained anomalies detected",
	}, []string{"anomaly_type", "severity"})
	PitStopRecommendations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ferrari_pitstop_recommendations_total",
		Help: "Pit-stop recommendations issued with high or critical urgency",
	})

	ProcessingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ferrari_processing_latency_seconds",
		Help:    "Per-record processing latency",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1.0},
	})
	MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ferrari_message_size_bytes",
		Help:    "Size of received telemetry messages",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
	})

	CurrentThroughput = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ferrari_current_throughput_msg_per_sec",
		Help: "Current throughput in messages per second",
	})
	AvgProcessingLatency = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ferrari_avg_processing_latency_ms",
		Help: "Average processing latency over the last 1000 records, in milliseconds",
	})
	ActiveAnomalies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ferrari_active_anomalies",
		Help: "Anomalies detected within the retention window",
	})
	PitStopScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ferrari_pitstop_score",
		Help: "Latest pit-stop score per car (0-100)",
	}, []string{"car_id"})
	TrackedEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ferrari_tracked_entities",
		Help: "Cars currently holding detector and scorer state",
	})
	EntitiesEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ferrari_entities_evicted_total",
		Help: "Cars whose state was dropped after being idle",
	})

	SinkDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ferrari_sink_drops_total",
		Help: "Results dropped because a sink channel was full",
	}, []string{"sink"})
	DBWriteSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ferrari_db_write_success_total",
		Help: "Result summaries written to the database",
	})
	DBWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ferrari_db_write_failures_total",
		Help: "Result summaries lost after a failed database write",
	})

	Registry = prometheus.NewRegistry()

	registerOnce sync.Once
)

func init() {
	Register()
}

// Register adds every collector to Registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			MessagesReceived,
			MessagesRejected,
			AnomaliesDetected,
			PitStopRecommendations,
			ProcessingLatency,
			MessageSize,
			CurrentThroughput,
			AvgProcessingLatency,
			ActiveAnomalies,
			PitStopScore,
			TrackedEntities,
			EntitiesEvicted,
			SinkDrops,
			DBWriteSuccess,
			DBWriteFailures,
		)
	})
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
