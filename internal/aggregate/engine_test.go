package aggregate

import (
	"fmt"
	"sync"
	"testing"

	"github.com/greenbharat/air-quality-service/internal/models"
)

func reading(city string, aqi int, pm25, pm10, temp, humidity float64) models.EnrichedReading {
	return models.EnrichedReading{
		Reading: models.Reading{
			City:        city,
			Timestamp:   "2026-01-15T08:00:00Z",
			PM25:        pm25,
			PM10:        pm10,
			Temperature: temp,
			Humidity:    humidity,
		},
		AQI: aqi,
	}
}

func TestEngine_FoldAndSnapshot(t *testing.T) {
	e := NewEngine()
	e.Fold(reading("Delhi", 100, 50, 90, 28, 55))
	e.Fold(reading("Delhi", 200, 80, 120, 30, 60))
	e.Fold(reading("Mumbai", 60, 20, 40, 31, 75))

	snap := e.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d cities, want 2", len(snap))
	}

	delhi := snap[0]
	if delhi.City != "Delhi" {
		t.Fatalf("first snapshot city = %q, want Delhi (first-seen order)", delhi.City)
	}
	if delhi.Count != 2 {
		t.Errorf("Delhi count = %d, want 2", delhi.Count)
	}
	if delhi.AQI.Sum != 300 || delhi.AQI.Min != 100 || delhi.AQI.Max != 200 {
		t.Errorf("Delhi AQI stats = %+v, want sum 300 min 100 max 200", delhi.AQI)
	}
	if delhi.PM25.Sum != 130 || delhi.PM25.Min != 50 || delhi.PM25.Max != 80 {
		t.Errorf("Delhi PM25 stats = %+v, want sum 130 min 50 max 80", delhi.PM25)
	}
	if delhi.LastSeen.AQI != 200 {
		t.Errorf("Delhi LastSeen.AQI = %d, want 200 (most recent fold)", delhi.LastSeen.AQI)
	}

	if e.TotalFolded() != 3 {
		t.Errorf("TotalFolded() = %d, want 3", e.TotalFolded())
	}
}

func TestEngine_SnapshotFirstSeenOrder(t *testing.T) {
	e := NewEngine()
	for _, city := range []string{"Kolkata", "Chennai", "Jaipur"} {
		e.Fold(reading(city, 50, 10, 20, 30, 60))
	}
	// Later folds for earlier cities do not change encounter order.
	e.Fold(reading("Jaipur", 80, 15, 25, 30, 60))
	e.Fold(reading("Kolkata", 90, 18, 28, 30, 60))

	snap := e.Snapshot()
	want := []string{"Kolkata", "Chennai", "Jaipur"}
	for i, city := range want {
		if snap[i].City != city {
			t.Errorf("snapshot[%d].City = %q, want %q", i, snap[i].City, city)
		}
	}
}

func TestEngine_SnapshotIsCopy(t *testing.T) {
	e := NewEngine()
	e.Fold(reading("Delhi", 100, 50, 90, 28, 55))

	snap := e.Snapshot()
	snap[0].Count = 999
	snap[0].AQI.Sum = -1

	after := e.Snapshot()
	if after[0].Count != 1 || after[0].AQI.Sum != 100 {
		t.Error("mutating a snapshot leaked into engine state")
	}
}

func TestEngine_ConcurrentSnapshotDuringFold(t *testing.T) {
	e := NewEngine()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.Fold(reading(fmt.Sprintf("City%d", i%10), 100, 50, 90, 28, 55))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			for _, agg := range e.Snapshot() {
				if agg.Count == 0 {
					t.Error("snapshot contained zero-count aggregate")
					return
				}
			}
		}
	}()
	wg.Wait()

	if e.TotalFolded() != 500 {
		t.Errorf("TotalFolded() = %d, want 500", e.TotalFolded())
	}
}
