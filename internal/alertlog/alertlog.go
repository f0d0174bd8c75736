package alertlog

import (
	"sync"

	"github.com/greenbharat/air-quality-service/internal/models"
)

// Log is a bounded, newest-first store of classified alerts. Alerts beyond the
// retention cap are discarded oldest-first; discarding is silent. Total counts
// every alert ever appended in this process lifetime, unbounded by retention.
type Log struct {
	mu        sync.RWMutex
	alerts    []models.Alert // newest first
	retention int
	total     int64
}

// NewLog returns a Log retaining at most retention alerts.
func NewLog(retention int) *Log {
	if retention <= 0 {
		retention = 500
	}
	return &Log{retention: retention}
}

// Append adds an alert to the front of the log.
func (l *Log) Append(a models.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append([]models.Alert{a}, l.alerts...)
	if len(l.alerts) > l.retention {
		l.alerts = l.alerts[:l.retention]
	}
	l.total++
}

// Recent returns at most n of the newest alerts, newest first. The result is a
// copy safe to read concurrently with appends.
func (l *Log) Recent(n int) []models.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.alerts) {
		n = len(l.alerts)
	}
	out := make([]models.Alert, n)
	copy(out, l.alerts[:n])
	return out
}

// Total returns the number of alerts appended in this process lifetime.
func (l *Log) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
