package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/greenbharat/air-quality-service/internal/aggregate"
	"github.com/greenbharat/air-quality-service/internal/alertlog"
	"github.com/greenbharat/air-quality-service/internal/cache"
	"github.com/greenbharat/air-quality-service/internal/models"
	"github.com/greenbharat/air-quality-service/internal/observability"
	"github.com/greenbharat/air-quality-service/internal/ragclient"
)

// Query signatures for the fixed views. Trend signatures carry their filter
// parameters; see TrendsSignature.
const (
	SignatureAQI     = "aqi"
	SignatureAlerts  = "alerts"
	SignatureStats   = "stats"
	SignatureSummary = "summary"
)

// alertsResponseCap bounds the /api/alerts response; the alert log's own
// retention cap is configured independently.
const alertsResponseCap = 50

// FallbackAnswer is the deterministic payload returned when the Q&A
// collaborator is unreachable or erroring.
var FallbackAnswer = ragclient.Answer{
	Answer:  "The knowledge assistant is not available right now. Live air-quality data on this dashboard is unaffected.",
	Sources: []string{},
}

// Syncer runs one ingestion cycle so a freshly materialized view includes rows
// appended since the last background poll.
type Syncer interface {
	Sync(ctx context.Context)
}

// QueryService serves point-in-time views of the aggregation state through a
// TTL query cache. Cache hits return the stored payload verbatim; misses
// materialize the view from current snapshots, with concurrent misses for the
// same signature collapsed into a single recomputation.
type QueryService struct {
	syncer             Syncer
	engine             *aggregate.Engine
	alerts             *alertlog.Log
	history            *aggregate.History
	cache              cache.Cache
	ttl                time.Duration
	rag                ragclient.Client
	trendsDefaultLimit int

	coalescer       *requestCoalescer
	stampedeTracker *stampedeTracker
	askFailed       atomic.Bool
}

// NewQueryService creates a QueryService. ttl is the cache window per
// signature; coalesceTimeout bounds how long a caller waits on an in-flight
// recomputation.
func NewQueryService(
	syncer Syncer,
	engine *aggregate.Engine,
	alerts *alertlog.Log,
	history *aggregate.History,
	c cache.Cache,
	ttl time.Duration,
	rag ragclient.Client,
	trendsDefaultLimit int,
	coalesceTimeout time.Duration,
) *QueryService {
	if trendsDefaultLimit <= 0 {
		trendsDefaultLimit = 100
	}
	if coalesceTimeout <= 0 {
		coalesceTimeout = 10 * time.Second
	}
	return &QueryService{
		syncer:             syncer,
		engine:             engine,
		alerts:             alerts,
		history:            history,
		cache:              c,
		ttl:                ttl,
		rag:                rag,
		trendsDefaultLimit: trendsDefaultLimit,
		coalescer:          newRequestCoalescer(coalesceTimeout),
		stampedeTracker:    newStampedeTracker(),
	}
}

// TrendsSignature builds the cache signature for a trend slice. Distinct
// filter parameters are distinct signatures and never interfere.
func TrendsSignature(city string, limit int) string {
	return fmt.Sprintf("trends?city=%s&limit=%d", strings.TrimSpace(city), limit)
}

// CurrentAQI returns the /api/aqi payload: latest reading per city, sorted
// descending by AQI.
func (s *QueryService) CurrentAQI(ctx context.Context) ([]byte, error) {
	return s.view(ctx, SignatureAQI, SignatureAQI, func() (interface{}, error) {
		return buildAQIView(s.engine.Snapshot()), nil
	})
}

// Alerts returns the /api/alerts payload: newest-first alerts capped at 50,
// plus the lifetime total.
func (s *QueryService) Alerts(ctx context.Context) ([]byte, error) {
	return s.view(ctx, SignatureAlerts, SignatureAlerts, func() (interface{}, error) {
		recent := s.alerts.Recent(alertsResponseCap)
		if recent == nil {
			recent = []models.Alert{}
		}
		return AlertsResponse{Alerts: recent, Total: s.alerts.Total()}, nil
	})
}

// Trends returns the /api/trends payload for an optional city filter and
// limit (most recent limit records, oldest-to-newest in the window).
func (s *QueryService) Trends(ctx context.Context, city string, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = s.trendsDefaultLimit
	}
	sig := TrendsSignature(city, limit)
	return s.view(ctx, sig, "trends", func() (interface{}, error) {
		return buildTrendsView(s.history.Recent(city, limit)), nil
	})
}

// Stats returns the /api/stats payload: per-city running statistics sorted
// descending by average AQI.
func (s *QueryService) Stats(ctx context.Context) ([]byte, error) {
	return s.view(ctx, SignatureStats, SignatureStats, func() (interface{}, error) {
		return buildStatsView(s.engine.Snapshot()), nil
	})
}

// Summary returns the /api/summary payload.
func (s *QueryService) Summary(ctx context.Context) ([]byte, error) {
	return s.view(ctx, SignatureSummary, SignatureSummary, func() (interface{}, error) {
		return buildSummaryView(s.engine.Snapshot(), s.engine.TotalFolded()), nil
	})
}

// Ask delegates the query to the Q&A collaborator. On any collaborator
// failure it returns the fixed fallback answer and fellBack=true; the caller
// always gets a usable response, never an error.
func (s *QueryService) Ask(ctx context.Context, query string) (ragclient.Answer, bool) {
	logger := loggerFromContext(ctx)
	answer, err := s.rag.Ask(ctx, query)
	if err != nil {
		s.askFailed.Store(true)
		observability.RAGFallbacksTotal.Inc()
		if logger != nil {
			logger.Warn("qa collaborator unavailable, serving fallback", zap.Error(err))
		}
		return FallbackAnswer, true
	}
	s.askFailed.Store(false)
	return answer, false
}

// CollaboratorHealthy reports whether the most recent Q&A delegation
// succeeded. True when no delegation has happened yet.
func (s *QueryService) CollaboratorHealthy() bool {
	return !s.askFailed.Load()
}

// view implements the cache-aside read for one signature. metricLabel is the
// bounded label used for metrics (the view name, without filter parameters).
func (s *QueryService) view(ctx context.Context, sig, metricLabel string, materialize func() (interface{}, error)) ([]byte, error) {
	start := time.Now()
	logger := loggerFromContext(ctx)

	getStart := time.Now()
	payload, ok, err := s.cache.Get(ctx, sig)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues(metricLabel).Inc()
		if logger != nil {
			logger.Debug("view served", zap.String("signature", sig), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return payload, nil
	}
	observability.CacheMissesTotal.WithLabelValues(metricLabel).Inc()

	concurrentMisses := s.stampedeTracker.RecordMiss(sig)
	defer s.stampedeTracker.RecordHit(sig)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(metricLabel).Inc()
	}

	coalesceStart := time.Now()
	payload, err = s.coalescer.GetOrDo(ctx, sig, func() ([]byte, error) {
		if s.syncer != nil {
			s.syncer.Sync(ctx)
		}
		v, buildErr := materialize()
		if buildErr != nil {
			return nil, buildErr
		}
		raw, marshalErr := json.Marshal(v)
		if marshalErr != nil {
			return nil, fmt.Errorf("encode view %s: %w", sig, marshalErr)
		}

		setStart := time.Now()
		if setErr := s.cache.Set(ctx, sig, raw, s.ttl); setErr != nil {
			observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
			observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
			if logger != nil {
				logger.Warn("cache set failed", zap.String("signature", sig), zap.Error(setErr))
			}
		} else {
			observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
		}
		return raw, nil
	})
	coalesceWait := time.Since(coalesceStart)
	if err != nil {
		return nil, fmt.Errorf("materialize view %s: %w", sig, err)
	}
	if coalesceWait > 10*time.Millisecond {
		observability.QueryCoalescingHitsTotal.WithLabelValues(metricLabel).Inc()
	}
	observability.QueryCoalescingWaitSeconds.Observe(coalesceWait.Seconds())

	if logger != nil {
		logger.Debug("view served", zap.String("signature", sig), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return payload, nil
}

// categorizeCacheError returns a stable label for cache error metrics
// (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}
