package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/greenbharat/air-quality-service/internal/aggregate"
	"github.com/greenbharat/air-quality-service/internal/alertlog"
	"github.com/greenbharat/air-quality-service/internal/cache"
	"github.com/greenbharat/air-quality-service/internal/lifecycle"
	"github.com/greenbharat/air-quality-service/internal/models"
	"github.com/greenbharat/air-quality-service/internal/ragclient"
	"github.com/greenbharat/air-quality-service/internal/service"
)

type stubRAG struct {
	answer ragclient.Answer
	err    error
}

func (s *stubRAG) Ask(ctx context.Context, query string) (ragclient.Answer, error) {
	if s.err != nil {
		return ragclient.Answer{}, s.err
	}
	return s.answer, nil
}

type stubIngest struct {
	reachable bool
	ingested  int64
	activity  int
}

func (s *stubIngest) SourceReachable() bool { return s.reachable }
func (s *stubIngest) Ingested() int64 { return s.ingested }
func (s *stubIngest) ActivityCount(_ time.Duration) int { return s.activity }

type fixture struct {
	handler *Handler
	engine  *aggregate.Engine
	alerts  *alertlog.Log
	history *aggregate.History
	ingest  *stubIngest
	rag     *stubRAG
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := aggregate.NewEngine()
	alerts := alertlog.NewLog(500)
	history := aggregate.NewHistory(100)
	rag := &stubRAG{answer: ragclient.Answer{Answer: "ok", Sources: []string{"doc"}}}
	queries := service.NewQueryService(nil, engine, alerts, history,
		cache.NewInMemoryCache(), 2*time.Second, rag, 100, time.Second)
	ingest := &stubIngest{reachable: true, ingested: 10, activity: 4}
	h := NewHandler(queries, ingest, &HealthConfig{IngestWindow: time.Minute, StartTime: time.Now()}, zap.NewNop(), 1000)
	return &fixture{handler: h, engine: engine, alerts: alerts, history: history, ingest: ingest, rag: rag}
}

func fold(engine *aggregate.Engine, city string, aqiValue int) {
	engine.Fold(models.EnrichedReading{
		Reading:     models.Reading{City: city, Timestamp: "2026-01-15T08:00:00Z"},
		AQI:         aqiValue,
		AQICategory: "Moderate",
	})
}

func TestGetAQI_SortedWorstFirst(t *testing.T) {
	f := newFixture(t)
	fold(f.engine, "Pune", 40)
	fold(f.engine, "Delhi", 320)
	fold(f.engine, "Kolkata", 150)

	rec := httptest.NewRecorder()
	f.handler.GetAQI(rec, httptest.NewRequest("GET", "/api/aqi", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Cities []struct {
			City string `json:"city"`
			AQI  int    `json:"aqi"`
		} `json:"cities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"Delhi", "Kolkata", "Pune"}
	if len(resp.Cities) != len(want) {
		t.Fatalf("got %d cities, want %d", len(resp.Cities), len(want))
	}
	for i, city := range want {
		if resp.Cities[i].City != city {
			t.Errorf("cities[%d] = %q, want %q", i, resp.Cities[i].City, city)
		}
	}
}

func TestGetAlerts(t *testing.T) {
	f := newFixture(t)
	f.alerts.Append(models.Alert{City: "Delhi", AQI: 320, AlertType: "CRITICAL"})

	rec := httptest.NewRecorder()
	f.handler.GetAlerts(rec, httptest.NewRequest("GET", "/api/alerts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Alerts []models.Alert `json:"alerts"`
		Total  int64          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].AlertType != "CRITICAL" {
		t.Errorf("alerts = %+v", resp.Alerts)
	}
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Total)
	}
}

func TestGetTrends_InvalidLimit(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.GetTrends(rec, httptest.NewRequest("GET", "/api/trends?limit=-5", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_LIMIT") {
		t.Errorf("body = %s, want INVALID_LIMIT code", rec.Body.String())
	}
}

func TestGetTrends_InvalidCity(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.GetTrends(rec, httptest.NewRequest("GET", "/api/trends?city=%3Cscript%3E", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_CITY") {
		t.Errorf("body = %s, want INVALID_CITY code", rec.Body.String())
	}
}

func TestGetTrends_FiltersByCity(t *testing.T) {
	f := newFixture(t)
	f.history.Add(models.EnrichedReading{Reading: models.Reading{City: "Delhi", Timestamp: "t1"}, AQI: 100})
	f.history.Add(models.EnrichedReading{Reading: models.Reading{City: "Mumbai", Timestamp: "t2"}, AQI: 60})

	rec := httptest.NewRecorder()
	f.handler.GetTrends(rec, httptest.NewRequest("GET", "/api/trends?city=Delhi", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Trends []struct {
			City string `json:"city"`
		} `json:"trends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Trends) != 1 || resp.Trends[0].City != "Delhi" {
		t.Errorf("trends = %+v, want single Delhi point", resp.Trends)
	}
}

func TestGetSummary(t *testing.T) {
	f := newFixture(t)
	fold(f.engine, "Delhi", 320)
	fold(f.engine, "Pune", 40)

	rec := httptest.NewRecorder()
	f.handler.GetSummary(rec, httptest.NewRequest("GET", "/api/summary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		TotalCities int    `json:"total_cities"`
		WorstCity   string `json:"worst_city"`
		BestCity    string `json:"best_city"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalCities != 2 || resp.WorstCity != "Delhi" || resp.BestCity != "Pune" {
		t.Errorf("summary = %+v", resp)
	}
}

func TestPostAsk_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/ask", strings.NewReader(`{"query":"   "}`))
	f.handler.PostAsk(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "EMPTY_QUERY") {
		t.Errorf("body = %s, want EMPTY_QUERY code", rec.Body.String())
	}
}

func TestPostAsk_CollaboratorDownStillOK(t *testing.T) {
	f := newFixture(t)
	f.rag.err = errors.New("connection refused")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/ask", strings.NewReader(`{"query":"why is Delhi polluted"}`))
	f.handler.PostAsk(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when collaborator is down", rec.Code)
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Fallback {
		t.Error("fallback flag not set")
	}
	if resp.Answer != service.FallbackAnswer.Answer {
		t.Errorf("answer = %q, want fixed fallback", resp.Answer)
	}
	if resp.Sources == nil {
		t.Error("sources = null, want empty array")
	}
}

func TestPostAsk_Success(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/ask", strings.NewReader(`{"query":"current aqi"}`))
	f.handler.PostAsk(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Fallback || resp.Answer != "ok" {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetHealth_Healthy(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.GetHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status           string            `json:"status"`
		Checks           map[string]string `json:"checks"`
		ReadingsIngested int64             `json:"readingsIngested"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Checks["source"] != "healthy" {
		t.Errorf("source check = %q", resp.Checks["source"])
	}
	if resp.ReadingsIngested != 10 {
		t.Errorf("readingsIngested = %d, want 10", resp.ReadingsIngested)
	}
}

func TestGetHealth_SourceUnreachable(t *testing.T) {
	f := newFixture(t)
	f.ingest.reachable = false

	rec := httptest.NewRecorder()
	f.handler.GetHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" || resp.Checks["source"] != "unhealthy" {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetHealth_ShuttingDown(t *testing.T) {
	f := newFixture(t)
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)

	rec := httptest.NewRecorder()
	f.handler.GetHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "shutting-down") {
		t.Errorf("body = %s, want shutting-down status", rec.Body.String())
	}
}
