package domain

import (
	"encoding/json"
	"time"
)

type AnomalyKind string

func BrakeOverheat(p Position) AnomalyKind {
	return AnomalyKind("brake_overheat_" + p.String())
}

func TireOverheat(p Position) AnomalyKind {
	return AnomalyKind("tire_overheat_" + p.String())
}

type Severity string

const SeverityCritical Severity = "critical"

// AnomalyEvent is a sustained threshold excursion on one position of one car.
type AnomalyEvent struct {
	Timestamp time.Time
	CarID     string
	Kind      AnomalyKind
	Severity  Severity
	Value     float64
	Threshold float64
	Duration  time.Duration
	Message   string
}

type anomalyJSON struct {
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Duration  float64 `json:"duration"`
	Message   string  `json:"message"`
}

func (e AnomalyEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(anomalyJSON{
		Type:      string(e.Kind),
		Severity:  string(e.Severity),
		Value:     e.Value,
		Threshold: e.Threshold,
		Duration:  e.Duration.Seconds(),
		Message:   e.Message,
	})
}
