package ingest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"f1-telemetry/stream-processor/internal/domain"
)

func validMessage() map[string]any {
	return map[string]any{
		"timestamp":             "2024-05-26T14:03:12.250Z",
		"car_id":                "16",
		"driver":                "Charles Leclerc",
		"lap":                   23,
		"speed_kmh":             312.4,
		"rpm":                   11950,
		"gear":                  8,
		"throttle_percent":      100.0,
		"engine_temp_celsius":   108.2,
		"brake_pressure_bar":    0.0,
		"brake_temp_fl_celsius": 420.0,
		"brake_temp_fr_celsius": 425.5,
		"brake_temp_rl_celsius": 380.0,
		"brake_temp_rr_celsius": 377.0,
		"tire_compound":         "soft",
		"tire_temp_fl_celsius":  102.0,
		"tire_temp_fr_celsius":  104.0,
		"tire_temp_rl_celsius":  99.0,
		"tire_temp_rr_celsius":  98.5,
		"tire_pressure_fl_psi":  22.1,
		"tire_pressure_fr_psi":  22.0,
		"tire_pressure_rl_psi":  20.9,
		"tire_pressure_rr_psi":  21.0,
		"tire_wear_percent":     37.5,
		"drs_status":            "open",
		"ers_power_kw":          120.0,
		"fuel_remaining_kg":     61.3,
		"track_temp_celsius":    48.0,
		"air_temp_celsius":      27.0,
		"humidity_percent":      41.0,
	}
}

func encode(t *testing.T, msg map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func requireValidationError(t *testing.T, err error, field string) *ValidationError {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want *ValidationError, got %T", err)
	assert.Equal(t, field, ve.Field)
	return ve
}

func TestDecodeValidRecord(t *testing.T) {
	rec, err := Decode(encode(t, validMessage()))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 26, 14, 3, 12, 250_000_000, time.UTC), rec.Timestamp)
	assert.Equal(t, "16", rec.CarID)
	assert.Equal(t, "Charles Leclerc", rec.Driver)
	assert.Equal(t, 23, rec.Lap)
	assert.Equal(t, 11950, rec.RPM)
	assert.Equal(t, [4]float64{420, 425.5, 380, 377}, rec.BrakeTempC)
	assert.Equal(t, [4]float64{102, 104, 99, 98.5}, rec.TireTempC)
	assert.Equal(t, [4]float64{22.1, 22.0, 20.9, 21.0}, rec.TirePressurePSI)
	assert.Equal(t, 37.5, rec.TireWearPct)
	assert.Equal(t, "open", rec.DRSStatus)
	assert.Nil(t, rec.UpstreamAnomaly)
}

func TestDecodeUpstreamAnomaly(t *testing.T) {
	msg := validMessage()
	msg["has_anomaly"] = true
	msg["anomaly_type"] = "brake_overheat"
	msg["anomaly_severity"] = "critical"

	rec, err := Decode(encode(t, msg))
	require.NoError(t, err)
	require.NotNil(t, rec.UpstreamAnomaly)
	assert.Equal(t, "brake_overheat", rec.UpstreamAnomaly.Type)
	assert.Equal(t, "critical", rec.UpstreamAnomaly.Severity)

	msg["has_anomaly"] = false
	rec, err = Decode(encode(t, msg))
	require.NoError(t, err)
	assert.Nil(t, rec.UpstreamAnomaly)
}

func TestDecodeConvertsOffsetToUTC(t *testing.T) {
	msg := validMessage()
	msg["timestamp"] = "2024-05-26T16:03:12+02:00"

	rec, err := Decode(encode(t, msg))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 26, 14, 3, 12, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
}

func TestDecodeRejectsMissingField(t *testing.T) {
	msg := validMessage()
	delete(msg, "tire_temp_rr_celsius")

	_, err := Decode(encode(t, msg))
	ve := requireValidationError(t, err, "tire_temp_rr_celsius")
	assert.Equal(t, "missing required field", ve.Reason)
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	msg := validMessage()
	msg["tyre_temp"] = 99

	_, err := Decode(encode(t, msg))
	requireValidationError(t, err, "tyre_temp")
}

func TestDecodeRejectsWrongType(t *testing.T) {
	msg := validMessage()
	msg["speed_kmh"] = "fast"

	_, err := Decode(encode(t, msg))
	requireValidationError(t, err, "speed_kmh")
}

func TestDecodeRejectsTimestampWithoutZone(t *testing.T) {
	for _, ts := range []string{"2024-05-26T14:03:12", "2024-05-26", "yesterday", "2024-13-40T99:00:00Z"} {
		msg := validMessage()
		msg["timestamp"] = ts

		_, err := Decode(encode(t, msg))
		requireValidationError(t, err, "timestamp")
	}
}

func TestDecodeRejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		field string
		value any
	}{
		{"brake_temp_fl_celsius", -1.0},
		{"tire_temp_rl_celsius", -0.5},
		{"tire_wear_percent", 100.5},
		{"tire_wear_percent", -3.0},
		{"speed_kmh", -10.0},
		{"lap", -1},
		{"rpm", -1},
		{"car_id", "  "},
	}
	for _, tt := range tests {
		msg := validMessage()
		msg[tt.field] = tt.value

		_, err := Decode(encode(t, msg))
		requireValidationError(t, err, tt.field)
	}
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	for _, raw := range []string{"", "{", "[]", `{"car_id":"16"} {"car_id":"55"}`} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, domain.ErrInvalidRecord, "body %q", raw)
	}
}

func TestDecodeRejectsKeyCaseMismatch(t *testing.T) {
	msg := validMessage()
	msg["CAR_ID"] = msg["car_id"]
	delete(msg, "car_id")

	_, err := Decode(encode(t, msg))
	verr := requireValidationError(t, err, "CAR_ID")
	assert.Equal(t, "unknown field", verr.Reason)
}

func TestDecodeRejectsDuplicateKey(t *testing.T) {
	raw := encode(t, validMessage())
	raw = append(raw[:len(raw)-1], []byte(`,"car_id":"99"}`)...)

	_, err := Decode(raw)
	verr := requireValidationError(t, err, "car_id")
	assert.Equal(t, "duplicate field", verr.Reason)
}
