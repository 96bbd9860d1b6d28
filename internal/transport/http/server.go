package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"f1-telemetry/stream-processor/internal/auth"
	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/ingest"
	"f1-telemetry/stream-processor/internal/metrics"
	"f1-telemetry/stream-processor/internal/stream"
)

const maxBodyBytes = 1 << 20

// Processor is the part of the stream processor the HTTP surface needs.
type Processor interface {
	Process(ctx context.Context, rec domain.TelemetryRecord) (domain.Result, error)
	Stats() stream.StatsSnapshot
	ActiveAnomalies() int
	TrackedEntities() int
}

// Publisher receives every successfully processed result.
type Publisher interface {
	Dispatch(res *domain.Result)
}

type Options struct {
	Processor Processor
	Publisher Publisher
	Logger    *slog.Logger
	Auth      *AuthMiddleware
	// Live serves GET /ws when set.
	Live http.Handler
}

type Server struct {
	proc    Processor
	pub     Publisher
	log     *slog.Logger
	handler http.Handler
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{proc: opts.Processor, pub: opts.Publisher, log: log}

	var ingestHandler http.Handler = http.HandlerFunc(s.handleTelemetry)
	if opts.Auth != nil {
		ingestHandler = opts.Auth.Wrap(ingestHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /telemetry", ingestHandler)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if opts.Live != nil {
		mux.Handle("GET /ws", opts.Live)
	}

	var h http.Handler = mux
	h = Logging(log)(h)
	h = RequestID(h)
	h = Recovery(log)(h)
	s.handler = h
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type pitstopDetails struct {
	TireWear         float64 `json:"tire_wear"`
	SpeedLoss        float64 `json:"speed_loss"`
	BrakeDegradation float64 `json:"brake_degradation"`
}

type pitstopResponse struct {
	Score          float64        `json:"score"`
	Urgency        string         `json:"urgency"`
	Recommendation string         `json:"recommendation"`
	Details        pitstopDetails `json:"details"`
}

type TelemetryResponse struct {
	Status           string                `json:"status"`
	CarID            string                `json:"car_id"`
	Lap              int                   `json:"lap"`
	Anomalies        []domain.AnomalyEvent `json:"anomalies"`
	PitStop          pitstopResponse       `json:"pitstop"`
	ProcessingTimeMS float64               `json:"processing_time_ms"`
}

// NewTelemetryResponse shapes a result the way ingestion clients expect it.
func NewTelemetryResponse(res *domain.Result) TelemetryResponse {
	anomalies := res.Anomalies
	if anomalies == nil {
		anomalies = []domain.AnomalyEvent{}
	}
	return TelemetryResponse{
		Status:    "processed",
		CarID:     res.Record.CarID,
		Lap:       res.Record.Lap,
		Anomalies: anomalies,
		PitStop: pitstopResponse{
			Score:          res.PitStop.Score,
			Urgency:        string(res.PitStop.Urgency),
			Recommendation: res.PitStop.Recommendation,
			Details: pitstopDetails{
				TireWear:         res.PitStop.TireWear,
				SpeedLoss:        res.PitStop.SpeedLoss,
				BrakeDegradation: res.PitStop.BrakeDegradation,
			},
		},
		ProcessingTimeMS: round2(float64(res.ProcessingTime) / float64(time.Millisecond)),
	}
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body: "+err.Error())
		return
	}

	rec, err := ingest.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.proc.Process(r.Context(), rec)
	if err != nil {
		s.respondProcessError(w, r, &rec, err)
		return
	}

	if s.pub != nil {
		s.pub.Dispatch(&res)
	}
	writeJSON(w, http.StatusOK, NewTelemetryResponse(&res))
}

func (s *Server) respondProcessError(w http.ResponseWriter, r *http.Request, rec *domain.TelemetryRecord, err error) {
	switch {
	case errors.Is(err, domain.ErrOutOfOrder):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrProcessorStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.log.Error("telemetry processing failed",
			slog.String("car_id", rec.CarID),
			slog.Int("lap", rec.Lap),
			slog.String("request_id", r.Header.Get("X-Request-ID")),
			slog.String("api_key_owner", auth.OwnerFromContext(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type statsResponse struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	MessagesProcessed int64   `json:"messages_processed"`
	AvgThroughput     float64 `json:"avg_throughput_msg_per_sec"`
	CurrentThroughput float64 `json:"current_throughput_msg_per_sec"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
	ActiveAnomalies   int     `json:"active_anomalies"`
	TrackedEntities   int     `json:"tracked_entities"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.proc.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		UptimeSeconds:     round2(snap.Uptime.Seconds()),
		MessagesProcessed: snap.Processed,
		AvgThroughput:     round2(snap.AvgThroughput),
		CurrentThroughput: round2(snap.CurrentThroughput),
		AvgLatencyMS:      round2(float64(snap.AvgLatency) / float64(time.Millisecond)),
		ActiveAnomalies:   s.proc.ActiveAnomalies(),
		TrackedEntities:   s.proc.TrackedEntities(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	snap := s.proc.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":            "Ferrari F1 Stream Processor",
		"status":             "running",
		"uptime_seconds":     round2(snap.Uptime.Seconds()),
		"messages_processed": snap.Processed,
		"avg_throughput":     round2(snap.AvgThroughput),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
