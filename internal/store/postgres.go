package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"f1-telemetry/stream-processor/internal/config"
	"f1-telemetry/stream-processor/internal/domain"
)

// PostgresStore keeps the per-record summaries and anomaly events read by
// the race-weekend batch reports. Raw telemetry is never written here.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS telemetry_data (
		id                SERIAL PRIMARY KEY,
		timestamp         TIMESTAMP NOT NULL,
		car_id            VARCHAR(50) NOT NULL,
		driver            VARCHAR(100) NOT NULL,
		lap               INTEGER,
		speed_kmh         FLOAT,
		rpm               INTEGER,
		brake_temp_avg    FLOAT,
		tire_temp_avg     FLOAT,
		tire_wear_percent FLOAT,
		has_anomaly       BOOLEAN,
		anomaly_type      VARCHAR(50),
		pitstop_score     FLOAT,
		created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_timestamp ON telemetry_data(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_car_id ON telemetry_data(car_id)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_has_anomaly ON telemetry_data(has_anomaly)`,
	`CREATE TABLE IF NOT EXISTS anomaly_events (
		id               BIGSERIAL PRIMARY KEY,
		detected_at      TIMESTAMPTZ NOT NULL,
		car_id           VARCHAR(50) NOT NULL,
		anomaly_type     VARCHAR(50) NOT NULL,
		severity         VARCHAR(20) NOT NULL,
		value            FLOAT NOT NULL,
		threshold        FLOAT NOT NULL,
		duration_seconds FLOAT NOT NULL,
		message          TEXT,
		UNIQUE (car_id, anomaly_type, detected_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomaly_events_car ON anomaly_events(car_id, detected_at DESC)`,
}

// EnsureSchema creates the tables and indexes if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

var summaryColumns = []string{
	"timestamp",
	"car_id",
	"driver",
	"lap",
	"speed_kmh",
	"rpm",
	"brake_temp_avg",
	"tire_temp_avg",
	"tire_wear_percent",
	"has_anomaly",
	"anomaly_type",
	"pitstop_score",
}

func summaryRow(r *domain.Result) []interface{} {
	rec := &r.Record
	var anomalyType *string
	if len(r.Anomalies) > 0 {
		t := string(r.Anomalies[0].Kind)
		anomalyType = &t
	}
	return []interface{}{
		rec.Timestamp,
		rec.CarID,
		rec.Driver,
		rec.Lap,
		rec.SpeedKmh,
		rec.RPM,
		rec.AvgBrakeTempC(),
		rec.AvgTireTempC(),
		rec.TireWearPct,
		len(r.Anomalies) > 0,
		anomalyType,
		r.PitStop.Score,
	}
}

func (s *PostgresStore) BatchInsert(ctx context.Context, results []*domain.Result) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(results))
	for i, r := range results {
		rows[i] = summaryRow(r)
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"telemetry_data"},
		summaryColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(results), err)
	}

	return nil
}

func (s *PostgresStore) InsertAnomaly(ctx context.Context, ev domain.AnomalyEvent) error {
	query := `
		INSERT INTO anomaly_events
			(detected_at, car_id, anomaly_type, severity, value, threshold, duration_seconds, message)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		ev.Timestamp,
		ev.CarID,
		string(ev.Kind),
		string(ev.Severity),
		ev.Value,
		ev.Threshold,
		ev.Duration.Seconds(),
		ev.Message,
	)
	return err
}

func (s *PostgresStore) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("table lookup failed: %w", err)
	}
	return exists, nil
}
