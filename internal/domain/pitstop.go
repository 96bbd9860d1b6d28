package domain

import "time"

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Recommendation strings are shown on the pit wall as-is.
const (
	RecommendationCritical = "PIT-STOP IMMÉDIAT REQUIS!"
	RecommendationHigh     = "Pit-stop fortement recommandé au prochain tour"
	RecommendationMedium   = "Pit-stop recommandé dans les 3-5 prochains tours"
	RecommendationLow      = "Continuer, surveillance normale"
)

// Actionable reports whether the tier asks the team to pit soon.
func (u Urgency) Actionable() bool {
	return u == UrgencyHigh || u == UrgencyCritical
}

type PitStopRecommendation struct {
	CarID            string
	Lap              int
	Score            float64
	TireWear         float64
	SpeedLoss        float64
	BrakeDegradation float64
	AnomalyFactor    float64
	Recommendation   string
	Urgency          Urgency
}

// Result is everything produced for one processed record.
type Result struct {
	Record         TelemetryRecord
	Anomalies      []AnomalyEvent
	PitStop        PitStopRecommendation
	ProcessingTime time.Duration
}
