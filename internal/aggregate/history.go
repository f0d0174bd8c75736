package aggregate

import (
	"sync"

	"github.com/greenbharat/air-quality-service/internal/models"
)

// History is a bounded buffer of the most recent enriched readings in arrival
// order. It backs trend queries, which need raw recent records rather than the
// engine's folded statistics. When the capacity is exceeded the oldest readings
// are dropped.
type History struct {
	mu       sync.RWMutex
	buffer   []models.EnrichedReading
	capacity int
}

// NewHistory returns a History holding at most capacity readings.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{
		buffer:   make([]models.EnrichedReading, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a reading, evicting the oldest when full.
func (h *History) Add(r models.EnrichedReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) >= h.capacity {
		h.buffer = h.buffer[1:]
	}
	h.buffer = append(h.buffer, r)
}

// Recent returns up to limit of the newest readings, optionally filtered by
// city (empty string matches all), ordered oldest-to-newest within the returned
// window. The result is a copy safe for the caller to retain.
func (h *History) Recent(city string, limit int) []models.EnrichedReading {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var matched []models.EnrichedReading
	if city == "" {
		matched = h.buffer
	} else {
		for _, r := range h.buffer {
			if r.City == city {
				matched = append(matched, r)
			}
		}
	}

	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	out := make([]models.EnrichedReading, limit)
	copy(out, matched[len(matched)-limit:])
	return out
}
