package domain

import "time"

// Position identifies a wheel corner. The order matches the fixed-size
// per-corner arrays on TelemetryRecord.
type Position int

const (
	FrontLeft Position = iota
	FrontRight
	RearLeft
	RearRight
)

var Positions = [4]Position{FrontLeft, FrontRight, RearLeft, RearRight}

func (p Position) String() string {
	switch p {
	case FrontLeft:
		return "fl"
	case FrontRight:
		return "fr"
	case RearLeft:
		return "rl"
	case RearRight:
		return "rr"
	default:
		return "unknown"
	}
}

// UpstreamAnomaly is the simulator's own anomaly flag. It is carried for
// persistence but never used for detection.
type UpstreamAnomaly struct {
	Type     string
	Severity string
}

type TelemetryRecord struct {
	Timestamp time.Time
	CarID     string
	Driver    string
	Lap       int

	SpeedKmh    float64
	RPM         int
	Gear        int
	ThrottlePct float64

	EngineTempC      float64
	BrakePressureBar float64
	BrakeTempC       [4]float64

	TireCompound    string
	TireTempC       [4]float64
	TirePressurePSI [4]float64
	TireWearPct     float64

	DRSStatus       string
	ERSPowerKW      float64
	FuelRemainingKg float64

	TrackTempC  float64
	AirTempC    float64
	HumidityPct float64

	UpstreamAnomaly *UpstreamAnomaly
}

func (r *TelemetryRecord) AvgBrakeTempC() float64 {
	return (r.BrakeTempC[0] + r.BrakeTempC[1] + r.BrakeTempC[2] + r.BrakeTempC[3]) / 4
}

func (r *TelemetryRecord) AvgTireTempC() float64 {
	return (r.TireTempC[0] + r.TireTempC[1] + r.TireTempC[2] + r.TireTempC[3]) / 4
}
