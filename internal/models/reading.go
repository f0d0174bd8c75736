package models

// Reading is one raw sensor observation from the append-only source stream.
type Reading struct {
	Timestamp   string  `json:"timestamp"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	PM25        float64 `json:"pm25"`
	PM10        float64 `json:"pm10"`
	NO2         float64 `json:"no2"`
	SO2         float64 `json:"so2"`
	CO          float64 `json:"co"`
	O3          float64 `json:"o3"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
}

// EnrichedReading is a Reading plus the derived AQI value and category label.
// Immutable once created by the enricher.
type EnrichedReading struct {
	Reading
	AQI         int    `json:"aqi"`
	AQICategory string `json:"aqi_category"`
}

// Alert is derived from an enriched reading that crossed an anomaly threshold.
type Alert struct {
	Timestamp   string  `json:"timestamp"`
	City        string  `json:"city"`
	AQI         int     `json:"aqi"`
	PM25        float64 `json:"pm25"`
	AQICategory string  `json:"aqi_category"`
	AlertType   string  `json:"alert_type"`
}

// MetricStats holds running sum/min/max for one tracked metric.
// Average is derived as Sum/Count at snapshot time.
type MetricStats struct {
	Sum float64 `json:"sum"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CityAggregate is the running per-city statistics maintained by the
// aggregation engine. Count equals the number of readings folded in since the
// engine was initialized.
type CityAggregate struct {
	City        string          `json:"city"`
	Count       int64           `json:"count"`
	AQI         MetricStats     `json:"aqi"`
	PM25        MetricStats     `json:"pm25"`
	PM10        MetricStats     `json:"pm10"`
	Temperature MetricStats     `json:"temperature"`
	Humidity    MetricStats     `json:"humidity"`
	LastSeen    EnrichedReading `json:"last_seen"`
}
