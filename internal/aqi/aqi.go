package aqi

import (
	"math"

	"github.com/greenbharat/air-quality-service/internal/models"
)

// breakpoint is one segment of a piecewise-linear concentration-to-index mapping:
// concentrations in [cLow, cHigh] map linearly onto indices [iLow, iHigh].
type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

// Simplified Indian NAQI breakpoint tables. Only pm2.5, pm10 and no2 contribute
// to the index; so2/co/o3 are carried on the enriched reading but not scored.
var (
	pm25Breakpoints = []breakpoint{
		{0, 30, 0, 50},
		{31, 60, 51, 100},
		{61, 90, 101, 200},
		{91, 120, 201, 300},
		{121, 250, 301, 400},
		{251, 500, 401, 500},
	}
	pm10Breakpoints = []breakpoint{
		{0, 50, 0, 50},
		{51, 100, 51, 100},
		{101, 250, 101, 200},
		{251, 350, 201, 300},
		{351, 430, 301, 400},
		{431, 600, 401, 500},
	}
	no2Breakpoints = []breakpoint{
		{0, 40, 0, 50},
		{41, 80, 51, 100},
		{81, 180, 101, 200},
		{181, 280, 201, 300},
		{281, 400, 301, 400},
		{401, 600, 401, 500},
	}
)

// subIndex maps a pollutant concentration onto its index scale using the first
// segment whose upper bound contains it. Values beyond the last segment
// saturate at the last segment's upper index; no extrapolation.
func subIndex(value float64, table []breakpoint) float64 {
	for _, bp := range table {
		if value <= bp.cHigh {
			return bp.iLow + (bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(value-bp.cLow)
		}
	}
	return table[len(table)-1].iHigh
}

// Compute returns the overall AQI for the given pollutant concentrations using
// the dominant-pollutant rule: the maximum of the per-pollutant sub-indices,
// rounded to the nearest integer.
func Compute(pm25, pm10, no2 float64) int {
	idx := subIndex(pm25, pm25Breakpoints)
	if v := subIndex(pm10, pm10Breakpoints); v > idx {
		idx = v
	}
	if v := subIndex(no2, no2Breakpoints); v > idx {
		idx = v
	}
	return int(math.Round(idx))
}

// Category returns the label for an AQI value. Boundaries are upper-inclusive:
// an AQI of exactly 50 is Good, exactly 100 is Satisfactory, and so on.
func Category(aqi int) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Satisfactory"
	case aqi <= 200:
		return "Moderate"
	case aqi <= 300:
		return "Poor"
	case aqi <= 400:
		return "Very Poor"
	default:
		return "Severe"
	}
}

// Enrich attaches the derived AQI and category to a raw reading.
func Enrich(r models.Reading) models.EnrichedReading {
	value := Compute(r.PM25, r.PM10, r.NO2)
	return models.EnrichedReading{
		Reading:     r,
		AQI:         value,
		AQICategory: Category(value),
	}
}
