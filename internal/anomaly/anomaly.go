package anomaly

import (
	"github.com/greenbharat/air-quality-service/internal/models"
)

// Severity tiers assigned to alerts, ordered by urgency.
const (
	SeverityCaution  = "CAUTION"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Trigger thresholds: an alert fires when either condition holds.
const (
	pm25Threshold = 60.0
	aqiThreshold  = 200
)

// Classify returns an alert for readings that cross a pollution threshold
// (pm2.5 above 60 or AQI above 200) and false otherwise. The severity tier
// depends on AQI alone: above 300 is CRITICAL, above 200 is WARNING, anything
// else that still triggered (pm2.5 spike with moderate AQI) is CAUTION.
func Classify(r models.EnrichedReading) (models.Alert, bool) {
	if r.PM25 <= pm25Threshold && r.AQI <= aqiThreshold {
		return models.Alert{}, false
	}
	return models.Alert{
		Timestamp:   r.Timestamp,
		City:        r.City,
		AQI:         r.AQI,
		PM25:        r.PM25,
		AQICategory: r.AQICategory,
		AlertType:   severity(r.AQI),
	}, true
}

func severity(aqi int) string {
	switch {
	case aqi > 300:
		return SeverityCritical
	case aqi > 200:
		return SeverityWarning
	default:
		return SeverityCaution
	}
}
