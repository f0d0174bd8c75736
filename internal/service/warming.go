package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ViewWarmer pre-materializes the fixed view signatures so the first dashboard
// load after startup hits a warm cache.
type ViewWarmer struct {
	service *QueryService
	logger  *zap.Logger
}

// NewViewWarmer creates a ViewWarmer for the given query service.
func NewViewWarmer(service *QueryService, logger *zap.Logger) *ViewWarmer {
	return &ViewWarmer{service: service, logger: logger}
}

// Warm materializes each fixed view concurrently. Returns an aggregated error
// if any view failed.
func (w *ViewWarmer) Warm(ctx context.Context) error {
	start := time.Now()
	views := map[string]func(context.Context) ([]byte, error){
		SignatureAQI:     w.service.CurrentAQI,
		SignatureAlerts:  w.service.Alerts,
		SignatureStats:   w.service.Stats,
		SignatureSummary: w.service.Summary,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(views))
	for name, fetch := range views {
		name, fetch := name, fetch
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fetch(ctx); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", name, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if w.logger != nil {
		w.logger.Info("view warming complete",
			zap.Int("views", len(views)),
			zap.Int("errors", len(errs)),
			zap.Duration("duration", time.Since(start)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("view warming: %v", errs)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval
// until ctx is done.
func (w *ViewWarmer) WarmPeriodic(ctx context.Context, interval time.Duration) error {
	if err := w.Warm(ctx); err != nil && w.logger != nil {
		w.logger.Warn("initial view warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx); err != nil && w.logger != nil {
				w.logger.Warn("periodic view warm failed", zap.Error(err))
			}
		}
	}
}
