package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"f1-telemetry/stream-processor/internal/domain"
	"f1-telemetry/stream-processor/internal/metrics"
)

// ValidationError describes why an inbound message was refused.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", domain.ErrInvalidRecord, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", domain.ErrInvalidRecord, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrInvalidRecord
}

// wireRecord mirrors the JSON produced by the car simulator. Every field is a
// pointer so a missing key can be told apart from a zero value.
type wireRecord struct {
	Timestamp *string `json:"timestamp"`
	CarID     *string `json:"car_id"`
	Driver    *string `json:"driver"`
	Lap       *int    `json:"lap"`

	SpeedKmh    *float64 `json:"speed_kmh"`
	RPM         *int     `json:"rpm"`
	Gear        *int     `json:"gear"`
	ThrottlePct *float64 `json:"throttle_percent"`

	EngineTempC      *float64 `json:"engine_temp_celsius"`
	BrakePressureBar *float64 `json:"brake_pressure_bar"`
	BrakeTempFL      *float64 `json:"brake_temp_fl_celsius"`
	BrakeTempFR      *float64 `json:"brake_temp_fr_celsius"`
	BrakeTempRL      *float64 `json:"brake_temp_rl_celsius"`
	BrakeTempRR      *float64 `json:"brake_temp_rr_celsius"`

	TireCompound *string  `json:"tire_compound"`
	TireTempFL   *float64 `json:"tire_temp_fl_celsius"`
	TireTempFR   *float64 `json:"tire_temp_fr_celsius"`
	TireTempRL   *float64 `json:"tire_temp_rl_celsius"`
	TireTempRR   *float64 `json:"tire_temp_rr_celsius"`
	TirePressFL  *float64 `json:"tire_pressure_fl_psi"`
	TirePressFR  *float64 `json:"tire_pressure_fr_psi"`
	TirePressRL  *float64 `json:"tire_pressure_rl_psi"`
	TirePressRR  *float64 `json:"tire_pressure_rr_psi"`
	TireWearPct  *float64 `json:"tire_wear_percent"`

	DRSStatus       *string  `json:"drs_status"`
	ERSPowerKW      *float64 `json:"ers_power_kw"`
	FuelRemainingKg *float64 `json:"fuel_remaining_kg"`

	TrackTempC  *float64 `json:"track_temp_celsius"`
	AirTempC    *float64 `json:"air_temp_celsius"`
	HumidityPct *float64 `json:"humidity_percent"`

	HasAnomaly      *bool   `json:"has_anomaly" ingest:"optional"`
	AnomalyType     *string `json:"anomaly_type" ingest:"optional"`
	AnomalySeverity *string `json:"anomaly_severity" ingest:"optional"`
}

// Decode parses one JSON telemetry message. Unknown, missing and mistyped
// fields are rejected with a *ValidationError.
func Decode(raw []byte) (domain.TelemetryRecord, error) {
	metrics.MessageSize.Observe(float64(len(raw)))

	rec, err := decode(raw)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("invalid").Inc()
		return domain.TelemetryRecord{}, err
	}
	return rec, nil
}

func decode(raw []byte) (domain.TelemetryRecord, error) {
	var w wireRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return domain.TelemetryRecord{}, jsonError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return domain.TelemetryRecord{}, &ValidationError{Reason: "trailing data after JSON object"}
	}
	if err := checkKeys(raw); err != nil {
		return domain.TelemetryRecord{}, err
	}

	if err := checkRequired(&w); err != nil {
		return domain.TelemetryRecord{}, err
	}

	ts, err := parseTimestamp(*w.Timestamp)
	if err != nil {
		return domain.TelemetryRecord{}, err
	}

	rec := domain.TelemetryRecord{
		Timestamp:        ts,
		CarID:            strings.TrimSpace(*w.CarID),
		Driver:           *w.Driver,
		Lap:              *w.Lap,
		SpeedKmh:         *w.SpeedKmh,
		RPM:              *w.RPM,
		Gear:             *w.Gear,
		ThrottlePct:      *w.ThrottlePct,
		EngineTempC:      *w.EngineTempC,
		BrakePressureBar: *w.BrakePressureBar,
		BrakeTempC:       [4]float64{*w.BrakeTempFL, *w.BrakeTempFR, *w.BrakeTempRL, *w.BrakeTempRR},
		TireCompound:     *w.TireCompound,
		TireTempC:        [4]float64{*w.TireTempFL, *w.TireTempFR, *w.TireTempRL, *w.TireTempRR},
		TirePressurePSI:  [4]float64{*w.TirePressFL, *w.TirePressFR, *w.TirePressRL, *w.TirePressRR},
		TireWearPct:      *w.TireWearPct,
		DRSStatus:        *w.DRSStatus,
		ERSPowerKW:       *w.ERSPowerKW,
		FuelRemainingKg:  *w.FuelRemainingKg,
		TrackTempC:       *w.TrackTempC,
		AirTempC:         *w.AirTempC,
		HumidityPct:      *w.HumidityPct,
	}
	if w.HasAnomaly != nil && *w.HasAnomaly {
		rec.UpstreamAnomaly = &domain.UpstreamAnomaly{
			Type:     deref(w.AnomalyType),
			Severity: deref(w.AnomalySeverity),
		}
	}

	if err := validateRanges(&rec); err != nil {
		return domain.TelemetryRecord{}, err
	}
	return rec, nil
}

var wireType = reflect.TypeOf(wireRecord{})

var wireKeys = func() map[string]bool {
	keys := make(map[string]bool, wireType.NumField())
	for i := 0; i < wireType.NumField(); i++ {
		name, _, _ := strings.Cut(wireType.Field(i).Tag.Get("json"), ",")
		keys[name] = true
	}
	return keys
}()

// checkKeys walks the top-level object of an already decoded message.
// encoding/json folds key case and keeps the last of repeated keys, so both
// are rejected here.
func checkKeys(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	seen := make(map[string]bool, len(wireKeys))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return &ValidationError{Reason: err.Error()}
		}
		key, _ := tok.(string)
		if !wireKeys[key] {
			return &ValidationError{Field: key, Reason: "unknown field"}
		}
		if seen[key] {
			return &ValidationError{Field: key, Reason: "duplicate field"}
		}
		seen[key] = true

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return &ValidationError{Field: key, Reason: err.Error()}
		}
	}
	return nil
}

func checkRequired(w *wireRecord) error {
	v := reflect.ValueOf(w).Elem()
	for i := 0; i < wireType.NumField(); i++ {
		f := wireType.Field(i)
		if f.Tag.Get("ingest") == "optional" {
			continue
		}
		if v.Field(i).IsNil() {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			return &ValidationError{Field: name, Reason: "missing required field"}
		}
	}
	return nil
}

func jsonError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		return &ValidationError{Field: typeErr.Field, Reason: "expected " + typeErr.Type.String() + ", got " + typeErr.Value}
	case errors.As(err, &syntaxErr):
		return &ValidationError{Reason: fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)}
	case errors.Is(err, io.EOF):
		return &ValidationError{Reason: "empty body"}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &ValidationError{Field: field, Reason: "unknown field"}
	default:
		return &ValidationError{Reason: err.Error()}
	}
}

func parseTimestamp(s string) (t time.Time, err error) {
	_, clock, found := strings.Cut(s, "T")
	if !found || !strings.ContainsAny(clock, "Zz+-") {
		return t, &ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 instant with a UTC offset"}
	}
	t, err = iso8601.ParseString(s)
	if err != nil {
		return t, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}
	return t.UTC(), nil
}

func validateRanges(r *domain.TelemetryRecord) error {
	if r.CarID == "" {
		return &ValidationError{Field: "car_id", Reason: "must not be empty"}
	}
	if r.Lap < 0 {
		return &ValidationError{Field: "lap", Reason: "must not be negative"}
	}
	if r.SpeedKmh < 0 {
		return &ValidationError{Field: "speed_kmh", Reason: "must not be negative"}
	}
	if r.RPM < 0 {
		return &ValidationError{Field: "rpm", Reason: "must not be negative"}
	}
	if r.TireWearPct < 0 || r.TireWearPct > 100 {
		return &ValidationError{Field: "tire_wear_percent", Reason: "must be within [0, 100]"}
	}
	for _, pos := range domain.Positions {
		if r.BrakeTempC[pos] < 0 {
			return &ValidationError{Field: "brake_temp_" + pos.String() + "_celsius", Reason: "must not be negative"}
		}
		if r.TireTempC[pos] < 0 {
			return &ValidationError{Field: "tire_temp_" + pos.String() + "_celsius", Reason: "must not be negative"}
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
