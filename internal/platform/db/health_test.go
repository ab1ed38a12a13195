package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func fakeStats() *PoolStats {
	return &PoolStats{TotalConns: 4, IdleConns: 3, AcquiredConns: 1, MaxConns: 20, AcquireCount: 9, AcquireDuration: "1ms"}
}

func runHealth(t *testing.T, ping func(context.Context) error) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := healthHandler(ping, fakeStats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	rec, body := runHealth(t, func(context.Context) error { return nil })
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body.Status != "healthy" || body.Pool == nil || body.Pool.MaxConns != 20 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	rec, body := runHealth(t, func(context.Context) error { return errors.New("connection refused") })
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body.Status != "unhealthy" || body.Error != "connection refused" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHealthHandler_PingHasDeadline(t *testing.T) {
	runHealth(t, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected ping context to carry a deadline")
		}
		return nil
	})
}
