package stream

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/greenbharat/air-quality-service/internal/models"
	"github.com/greenbharat/air-quality-service/internal/observability"
)

// Reader tails a single append-only CSV file and yields rows appended since the
// last observed byte offset. The offset only advances past complete lines, so a
// row being written while we read is picked up whole on the next poll. A reader
// instance never re-emits a row it has already returned.
type Reader struct {
	path string

	mu           sync.Mutex
	offset       int64
	headerParsed bool
	columns      map[string]int

	logger *zap.Logger
}

// NewReader creates a Reader for the given source path. The file does not need
// to exist yet; polls return empty batches until it appears.
func NewReader(path string, logger *zap.Logger) *Reader {
	return &Reader{path: path, logger: logger}
}

// Poll returns all complete rows appended since the previous poll, in file
// order. A missing source file is an empty batch, not an error. Malformed rows
// and rows missing required fields are skipped; the offset still advances past
// them. A source that shrank below the current offset is treated as replaced
// and the reader resets to the start.
func (r *Reader) Poll(ctx context.Context) ([]models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}

	if info.Size() < r.offset {
		if r.logger != nil {
			r.logger.Warn("source truncated, resetting offset",
				zap.Int64("offset", r.offset), zap.Int64("size", info.Size()))
		}
		r.resetLocked()
	}
	if info.Size() == r.offset {
		return nil, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek source: %w", err)
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	// Only consume up to the last newline; a partial trailing line stays in the
	// file for the next poll.
	end := bytes.LastIndexByte(chunk, '\n')
	if end < 0 {
		return nil, nil
	}
	complete := chunk[:end+1]
	r.offset += int64(len(complete))

	return r.parseLines(complete), nil
}

// SourceAvailable reports whether the source file currently exists.
func (r *Reader) SourceAvailable() bool {
	_, err := os.Stat(r.path)
	return err == nil
}

// Offset returns the current byte offset into the source.
func (r *Reader) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// Reset rewinds the reader to the start of the source. The next poll re-reads
// the header and every row.
func (r *Reader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Reader) resetLocked() {
	r.offset = 0
	r.headerParsed = false
	r.columns = nil
}

func (r *Reader) parseLines(data []byte) []models.Reading {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	var out []models.Reading
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			observability.RecordsSkippedTotal.WithLabelValues("malformed").Inc()
			if r.logger != nil {
				r.logger.Debug("skipping malformed row", zap.Error(err))
			}
			continue
		}
		if !r.headerParsed {
			r.columns = headerIndices(record)
			r.headerParsed = true
			continue
		}
		reading, err := r.recordToReading(record)
		if err != nil {
			observability.RecordsSkippedTotal.WithLabelValues("invalid").Inc()
			if r.logger != nil {
				r.logger.Debug("skipping invalid row", zap.Error(err))
			}
			continue
		}
		out = append(out, reading)
	}
	return out
}

func headerIndices(header []string) map[string]int {
	indices := make(map[string]int, len(header))
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return indices
}

// recordToReading maps a CSV record onto a Reading via the header indices.
// city and timestamp are required; pollutant concentrations must parse and be
// non-negative. Derived columns present in the source (aqi, aqi_category) are
// ignored since the enricher recomputes them.
func (r *Reader) recordToReading(record []string) (models.Reading, error) {
	get := func(key string) string {
		if idx, ok := r.columns[key]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	var reading models.Reading
	reading.City = get("city")
	if reading.City == "" {
		return reading, fmt.Errorf("missing city")
	}
	reading.Timestamp = get("timestamp")
	if reading.Timestamp == "" {
		return reading, fmt.Errorf("missing timestamp")
	}

	var err error
	parse := func(key string, dst *float64) {
		if err != nil {
			return
		}
		v, perr := strconv.ParseFloat(get(key), 64)
		if perr != nil {
			err = fmt.Errorf("field %s: %w", key, perr)
			return
		}
		*dst = v
	}
	parse("pm25", &reading.PM25)
	parse("pm10", &reading.PM10)
	parse("no2", &reading.NO2)
	parse("so2", &reading.SO2)
	parse("co", &reading.CO)
	parse("o3", &reading.O3)
	parse("temperature", &reading.Temperature)
	parse("humidity", &reading.Humidity)
	parse("wind_speed", &reading.WindSpeed)
	if err != nil {
		return reading, err
	}
	for name, v := range map[string]float64{
		"pm25": reading.PM25, "pm10": reading.PM10, "no2": reading.NO2,
		"so2": reading.SO2, "co": reading.CO, "o3": reading.O3,
	} {
		if v < 0 {
			return reading, fmt.Errorf("field %s: negative concentration", name)
		}
	}

	reading.Latitude, _ = strconv.ParseFloat(get("latitude"), 64)
	reading.Longitude, _ = strconv.ParseFloat(get("longitude"), 64)
	return reading, nil
}
