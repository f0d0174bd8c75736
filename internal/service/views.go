package service

import (
	"math"
	"sort"

	"github.com/greenbharat/air-quality-service/internal/models"
)

// Response shapes served by the query API. These mirror what the dashboard
// consumes, so field names are part of the external contract.

// CityCurrent is the latest reading for one city in the /api/aqi view.
type CityCurrent struct {
	City        string  `json:"city"`
	AQI         int     `json:"aqi"`
	AQICategory string  `json:"aqi_category"`
	PM25        float64 `json:"pm25"`
	PM10        float64 `json:"pm10"`
	NO2         float64 `json:"no2"`
	SO2         float64 `json:"so2"`
	CO          float64 `json:"co"`
	O3          float64 `json:"o3"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	Timestamp   string  `json:"timestamp"`
}

// AQIResponse is the /api/aqi payload: one entry per city, aqi descending.
type AQIResponse struct {
	Cities     []CityCurrent `json:"cities"`
	LastUpdate string        `json:"last_update"`
}

// AlertsResponse is the /api/alerts payload, newest first.
type AlertsResponse struct {
	Alerts []models.Alert `json:"alerts"`
	Total  int64          `json:"total"`
}

// TrendPoint is one historical sample in the /api/trends payload.
type TrendPoint struct {
	Timestamp   string  `json:"timestamp"`
	City        string  `json:"city"`
	AQI         int     `json:"aqi"`
	PM25        float64 `json:"pm25"`
	PM10        float64 `json:"pm10"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// TrendsResponse is the /api/trends payload, oldest to newest.
type TrendsResponse struct {
	Trends []TrendPoint `json:"trends"`
}

// CityStats is one row of the /api/stats payload.
type CityStats struct {
	City         string  `json:"city"`
	AvgAQI       float64 `json:"avg_aqi"`
	MaxAQI       int     `json:"max_aqi"`
	MinAQI       int     `json:"min_aqi"`
	AvgPM25      float64 `json:"avg_pm25"`
	MaxPM25      float64 `json:"max_pm25"`
	AvgTemp      float64 `json:"avg_temp"`
	ReadingCount int64   `json:"reading_count"`
}

// StatsResponse is the /api/stats payload, avg_aqi descending.
type StatsResponse struct {
	Stats []CityStats `json:"stats"`
}

// Summary is the /api/summary payload.
type Summary struct {
	TotalCities    int    `json:"total_cities"`
	TotalReadings  int64  `json:"total_readings"`
	AvgAQI         int    `json:"avg_aqi"`
	WorstCity      string `json:"worst_city"`
	WorstAQI       int    `json:"worst_aqi"`
	BestCity       string `json:"best_city"`
	BestAQI        int    `json:"best_aqi"`
	CitiesAbove200 int    `json:"cities_above_200"`
}

// buildAQIView projects the latest-per-city readings from an aggregate
// snapshot, sorted descending by AQI. The sort is stable so ties keep the
// snapshot's encounter order.
func buildAQIView(snapshot []models.CityAggregate) AQIResponse {
	cities := make([]CityCurrent, 0, len(snapshot))
	for _, agg := range snapshot {
		last := agg.LastSeen
		cities = append(cities, CityCurrent{
			City:        last.City,
			AQI:         last.AQI,
			AQICategory: last.AQICategory,
			PM25:        last.PM25,
			PM10:        last.PM10,
			NO2:         last.NO2,
			SO2:         last.SO2,
			CO:          last.CO,
			O3:          last.O3,
			Temperature: last.Temperature,
			Humidity:    last.Humidity,
			WindSpeed:   last.WindSpeed,
			Timestamp:   last.Timestamp,
		})
	}
	sort.SliceStable(cities, func(i, j int) bool {
		return cities[i].AQI > cities[j].AQI
	})

	lastUpdate := ""
	if len(cities) > 0 {
		lastUpdate = cities[0].Timestamp
	}
	return AQIResponse{Cities: cities, LastUpdate: lastUpdate}
}

// buildStatsView derives per-city statistics from an aggregate snapshot,
// sorted descending by average AQI. Averages are computed here from the
// running sums, rounded to one decimal.
func buildStatsView(snapshot []models.CityAggregate) StatsResponse {
	stats := make([]CityStats, 0, len(snapshot))
	for _, agg := range snapshot {
		n := float64(agg.Count)
		stats = append(stats, CityStats{
			City:         agg.City,
			AvgAQI:       round1(agg.AQI.Sum / n),
			MaxAQI:       int(agg.AQI.Max),
			MinAQI:       int(agg.AQI.Min),
			AvgPM25:      round1(agg.PM25.Sum / n),
			MaxPM25:      round1(agg.PM25.Max),
			AvgTemp:      round1(agg.Temperature.Sum / n),
			ReadingCount: agg.Count,
		})
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].AvgAQI > stats[j].AvgAQI
	})
	return StatsResponse{Stats: stats}
}

// buildSummaryView summarizes the latest-per-city projection: city counts,
// average of latest AQI values, worst/best city, and how many cities are
// currently above AQI 200.
func buildSummaryView(snapshot []models.CityAggregate, totalReadings int64) Summary {
	s := Summary{
		TotalCities:   len(snapshot),
		TotalReadings: totalReadings,
	}
	if len(snapshot) == 0 {
		return s
	}

	sum := 0
	worst, best := snapshot[0].LastSeen, snapshot[0].LastSeen
	for _, agg := range snapshot {
		last := agg.LastSeen
		sum += last.AQI
		if last.AQI > worst.AQI {
			worst = last
		}
		if last.AQI < best.AQI {
			best = last
		}
		if last.AQI > 200 {
			s.CitiesAbove200++
		}
	}
	s.AvgAQI = int(math.Round(float64(sum) / float64(len(snapshot))))
	s.WorstCity = worst.City
	s.WorstAQI = worst.AQI
	s.BestCity = best.City
	s.BestAQI = best.AQI
	return s
}

// buildTrendsView maps recent history onto trend points, oldest to newest.
func buildTrendsView(readings []models.EnrichedReading) TrendsResponse {
	trends := make([]TrendPoint, 0, len(readings))
	for _, r := range readings {
		trends = append(trends, TrendPoint{
			Timestamp:   r.Timestamp,
			City:        r.City,
			AQI:         r.AQI,
			PM25:        r.PM25,
			PM10:        r.PM10,
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
		})
	}
	return TrendsResponse{Trends: trends}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
