package stream

import (
	"time"

	"f1-telemetry/stream-processor/internal/domain"
)

// coolRecord is a record with every monitored temperature well below its
// threshold.
func coolRecord(carID string, ts time.Time) domain.TelemetryRecord {
	return domain.TelemetryRecord{
		Timestamp:       ts,
		CarID:           carID,
		Driver:          "Charles Leclerc",
		Lap:             12,
		SpeedKmh:        300,
		RPM:             11800,
		Gear:            7,
		ThrottlePct:     98,
		EngineTempC:     105,
		BrakeTempC:      [4]float64{400, 400, 380, 380},
		TireCompound:    "medium",
		TireTempC:       [4]float64{95, 96, 94, 93},
		TirePressurePSI: [4]float64{22, 22, 21, 21},
		TireWearPct:     20,
		DRSStatus:       "closed",
	}
}
