package aggregate

import (
	"sync"

	"github.com/greenbharat/air-quality-service/internal/models"
)

// Engine maintains running per-city statistics over an unbounded reading
// stream. Fold is O(1) per reading and never rescans history; averages are
// derived from the running sums at snapshot time.
//
// The ingestion loop is the sole caller of Fold. Snapshot may be called
// concurrently from any number of query handlers and returns copies, so a
// reader never observes a partially-updated aggregate.
type Engine struct {
	mu     sync.RWMutex
	cities map[string]*models.CityAggregate
	order  []string // city keys in first-seen order, for deterministic snapshots
	folded int64
}

// NewEngine returns an empty aggregation engine.
func NewEngine() *Engine {
	return &Engine{cities: make(map[string]*models.CityAggregate)}
}

// Fold updates the aggregate for the reading's city. Aggregates are created
// lazily on the first reading for a city and reflect arrival order, not
// event-time order: last-seen is always the most recently folded reading.
func (e *Engine) Fold(r models.EnrichedReading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agg, ok := e.cities[r.City]
	if !ok {
		agg = &models.CityAggregate{City: r.City}
		e.cities[r.City] = agg
		e.order = append(e.order, r.City)
	}

	agg.Count++
	first := agg.Count == 1
	foldMetric(&agg.AQI, float64(r.AQI), first)
	foldMetric(&agg.PM25, r.PM25, first)
	foldMetric(&agg.PM10, r.PM10, first)
	foldMetric(&agg.Temperature, r.Temperature, first)
	foldMetric(&agg.Humidity, r.Humidity, first)
	agg.LastSeen = r
	e.folded++
}

// foldMetric folds one value into running sum/min/max. Ties on min/max keep
// the first-seen extremum, which only matters for the strictness of the update.
func foldMetric(m *models.MetricStats, v float64, first bool) {
	m.Sum += v
	if first || v < m.Min {
		m.Min = v
	}
	if first || v > m.Max {
		m.Max = v
	}
}

// Snapshot returns a consistent copy of every city aggregate with a nonzero
// reading count, in first-seen city order. The returned slice and its elements
// are owned by the caller.
func (e *Engine) Snapshot() []models.CityAggregate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.CityAggregate, 0, len(e.order))
	for _, city := range e.order {
		agg := e.cities[city]
		if agg.Count == 0 {
			continue
		}
		out = append(out, *agg)
	}
	return out
}

// TotalFolded returns the number of readings folded since the engine was
// initialized, across all cities.
func (e *Engine) TotalFolded() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.folded
}
