package anomaly

import (
	"testing"

	"github.com/greenbharat/air-quality-service/internal/models"
)

func enriched(city string, pm25 float64, aqi int) models.EnrichedReading {
	return models.EnrichedReading{
		Reading:     models.Reading{City: city, Timestamp: "2026-01-15T08:00:00Z", PM25: pm25},
		AQI:         aqi,
		AQICategory: "Moderate",
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		pm25         float64
		aqi          int
		wantAlert    bool
		wantSeverity string
	}{
		{"clean reading", 20, 80, false, ""},
		{"both at threshold", 60, 200, false, ""},
		{"pm25 just over", 60.1, 100, true, SeverityCaution},
		{"aqi just over", 30, 201, true, SeverityWarning},
		{"aqi over 300", 30, 301, true, SeverityCritical},
		{"pm25 spike moderate aqi", 120, 180, true, SeverityCaution},
		{"both over critical", 250, 420, true, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, ok := Classify(enriched("Delhi", tt.pm25, tt.aqi))
			if ok != tt.wantAlert {
				t.Fatalf("Classify() fired = %v, want %v", ok, tt.wantAlert)
			}
			if !ok {
				return
			}
			if alert.AlertType != tt.wantSeverity {
				t.Errorf("AlertType = %q, want %q", alert.AlertType, tt.wantSeverity)
			}
			if alert.City != "Delhi" {
				t.Errorf("City = %q, want Delhi", alert.City)
			}
			if alert.AQI != tt.aqi {
				t.Errorf("AQI = %d, want %d", alert.AQI, tt.aqi)
			}
		})
	}
}

func TestClassify_NoAlertReturnsZeroValue(t *testing.T) {
	alert, ok := Classify(enriched("Pune", 10, 40))
	if ok {
		t.Fatal("Classify() fired for a clean reading")
	}
	if alert.City != "" || alert.AQI != 0 {
		t.Errorf("expected zero-value alert, got %+v", alert)
	}
}
