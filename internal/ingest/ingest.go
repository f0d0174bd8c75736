package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/greenbharat/air-quality-service/internal/aggregate"
	"github.com/greenbharat/air-quality-service/internal/alertlog"
	"github.com/greenbharat/air-quality-service/internal/anomaly"
	"github.com/greenbharat/air-quality-service/internal/aqi"
	"github.com/greenbharat/air-quality-service/internal/observability"
	"github.com/greenbharat/air-quality-service/internal/stream"
)

// Ingestor runs the background ingestion loop: poll the stream reader, enrich,
// classify, and fold into the aggregation engine and alert log. It is the sole
// mutator of that state; query handlers only read snapshots. Errors inside a
// cycle are logged and contained; the loop only stops on context cancellation.
type Ingestor struct {
	reader   *stream.Reader
	engine   *aggregate.Engine
	alerts   *alertlog.Log
	history  *aggregate.History
	interval time.Duration
	logger   *zap.Logger

	ingested atomic.Int64
	sourceOK atomic.Bool
	activity activityTracker
}

// New creates an Ingestor polling the reader at the given interval.
func New(reader *stream.Reader, engine *aggregate.Engine, alerts *alertlog.Log, history *aggregate.History, interval time.Duration, logger *zap.Logger) *Ingestor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Ingestor{
		reader:   reader,
		engine:   engine,
		alerts:   alerts,
		history:  history,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. The first cycle runs immediately so state
// is populated before the first query arrives.
func (in *Ingestor) Run(ctx context.Context) error {
	in.runOnce(ctx)
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			in.runOnce(ctx)
		}
	}
}

// Sync runs a single ingestion cycle. The query service calls this on a cache
// miss so a materialized view reflects rows appended since the last poll.
func (in *Ingestor) Sync(ctx context.Context) {
	in.runOnce(ctx)
}

func (in *Ingestor) runOnce(ctx context.Context) {
	readings, err := in.reader.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil && in.logger != nil {
			in.logger.Error("poll source", zap.Error(err))
		}
		in.sourceOK.Store(false)
		return
	}
	in.sourceOK.Store(in.reader.SourceAvailable())

	for _, r := range readings {
		enriched := aqi.Enrich(r)
		in.engine.Fold(enriched)
		in.history.Add(enriched)
		observability.RecordsIngestedTotal.Inc()
		if alert, ok := anomaly.Classify(enriched); ok {
			in.alerts.Append(alert)
			observability.AlertsEmittedTotal.WithLabelValues(alert.AlertType).Inc()
			if in.logger != nil {
				in.logger.Info("pollution alert",
					zap.String("city", alert.City),
					zap.Int("aqi", alert.AQI),
					zap.Float64("pm25", alert.PM25),
					zap.String("severity", alert.AlertType))
			}
		}
	}

	if n := len(readings); n > 0 {
		in.ingested.Add(int64(n))
		in.activity.Record(n)
		if in.logger != nil {
			in.logger.Debug("ingested batch",
				zap.Int("records", n),
				zap.Int64("offset", in.reader.Offset()))
		}
	}
}

// Ingested returns the lifetime count of readings folded by this ingestor.
func (in *Ingestor) Ingested() int64 {
	return in.ingested.Load()
}

// SourceReachable reports whether the source file existed on the last poll.
func (in *Ingestor) SourceReachable() bool {
	return in.sourceOK.Load()
}

// ActivityCount returns the number of readings ingested within the window.
func (in *Ingestor) ActivityCount(window time.Duration) int {
	return in.activity.Count(window)
}
