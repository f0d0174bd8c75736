package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

const csvHeader = "timestamp,city,latitude,longitude,pm25,pm10,no2,so2,co,o3,temperature,humidity,wind_speed,aqi,aqi_category\n"

func row(ts, city, pm25 string) string {
	return ts + "," + city + ",28.61,77.20," + pm25 + ",90.0,40.0,10.0,1.2,30.0,28.0,55.0,6.0,150,Moderate\n"
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestReader_MissingFileIsEmptyBatch(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "missing.csv"), zap.NewNop())
	batch, err := r.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll on missing file: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("Poll returned %d rows, want 0", len(batch))
	}
	if r.SourceAvailable() {
		t.Error("SourceAvailable() = true for missing file")
	}
}

func TestReader_ReadsAppendedRowsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.csv")
	writeFile(t, path, csvHeader+row("2026-01-15T08:00:00Z", "Delhi", "85.0"))
	r := NewReader(path, zap.NewNop())
	ctx := context.Background()

	batch, err := r.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("first poll returned %d rows, want 1", len(batch))
	}
	if batch[0].City != "Delhi" || batch[0].PM25 != 85.0 {
		t.Errorf("row = %+v, want Delhi pm25 85", batch[0])
	}

	// Nothing new: empty batch, no re-emission.
	batch, err = r.Poll(ctx)
	if err != nil || len(batch) != 0 {
		t.Fatalf("second poll = %d rows err %v, want 0 rows", len(batch), err)
	}

	appendFile(t, path, row("2026-01-15T08:00:04Z", "Mumbai", "35.0"))
	batch, err = r.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll after append: %v", err)
	}
	if len(batch) != 1 || batch[0].City != "Mumbai" {
		t.Fatalf("poll after append = %+v, want single Mumbai row", batch)
	}
}

func TestReader_PartialLineStaysForNextPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.csv")
	full := row("2026-01-15T08:00:00Z", "Delhi", "85.0")
	writeFile(t, path, csvHeader+full[:20]) // header plus half a row, no trailing newline
	r := NewReader(path, zap.NewNop())
	ctx := context.Background()

	batch, err := r.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("poll with partial row returned %d rows, want 0", len(batch))
	}

	appendFile(t, path, full[20:])
	batch, err = r.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll after completion: %v", err)
	}
	if len(batch) != 1 || batch[0].City != "Delhi" {
		t.Fatalf("completed row = %+v, want Delhi", batch)
	}
}

func TestReader_SkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.csv")
	writeFile(t, path, csvHeader+
		"2026-01-15T08:00:00Z,,28.61,77.20,85.0,90.0,40.0,10.0,1.2,30.0,28.0,55.0,6.0,150,Moderate\n"+ // missing city
		"2026-01-15T08:00:01Z,Delhi,28.61,77.20,notanumber,90.0,40.0,10.0,1.2,30.0,28.0,55.0,6.0,150,Moderate\n"+ // bad float
		row("2026-01-15T08:00:02Z", "Delhi", "85.0"))
	r := NewReader(path, zap.NewNop())

	batch, err := r.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("poll returned %d rows, want 1 (bad rows skipped)", len(batch))
	}
	if batch[0].City != "Delhi" || batch[0].Timestamp != "2026-01-15T08:00:02Z" {
		t.Errorf("surviving row = %+v", batch[0])
	}

	// Offset advanced past the skipped rows: nothing re-emitted.
	batch, err = r.Poll(context.Background())
	if err != nil || len(batch) != 0 {
		t.Errorf("re-poll = %d rows err %v, want 0", len(batch), err)
	}
}

func TestReader_NegativePollutantSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.csv")
	writeFile(t, path, csvHeader+
		"2026-01-15T08:00:00Z,Delhi,28.61,77.20,-5.0,90.0,40.0,10.0,1.2,30.0,28.0,55.0,6.0,150,Moderate\n")
	r := NewReader(path, zap.NewNop())

	batch, err := r.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("negative pm25 row not skipped: %+v", batch)
	}
}

func TestReader_TruncationResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.csv")
	writeFile(t, path, csvHeader+row("2026-01-15T08:00:00Z", "Delhi", "85.0")+row("2026-01-15T08:00:04Z", "Mumbai", "35.0"))
	r := NewReader(path, zap.NewNop())
	ctx := context.Background()

	if batch, _ := r.Poll(ctx); len(batch) != 2 {
		t.Fatalf("initial poll returned %d rows, want 2", len(batch))
	}

	// File replaced with a shorter one: reader starts over.
	writeFile(t, path, csvHeader+row("2026-01-15T09:00:00Z", "Pune", "26.0"))
	batch, err := r.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll after truncation: %v", err)
	}
	if len(batch) != 1 || batch[0].City != "Pune" {
		t.Fatalf("poll after truncation = %+v, want single Pune row", batch)
	}
}

func TestReader_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensor.csv")
	writeFile(t, path, csvHeader)
	r := NewReader(path, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Poll(ctx); err == nil {
		t.Error("Poll with cancelled context returned nil error")
	}
}
