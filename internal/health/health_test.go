package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	t.Run("全部依赖正常", func(t *testing.T) {
		hc := NewHealthChecker(time.Second, nil)
		hc.AddReadinessCheck("blob", func(context.Context) error { return nil })
		hc.AddReadinessCheck("sink", func(context.Context) error { return nil })
		hc.AddDetail("blob_stats", func() (interface{}, error) {
			return map[string]int{"object_count": 3}, nil
		})

		report := hc.CheckHealth(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		require.Len(t, report.Checks, 2)
		assert.Equal(t, "blob", report.Checks[0].Name)
		assert.Equal(t, map[string]int{"object_count": 3}, report.Details["blob_stats"])

		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("依赖异常时未就绪但仍存活", func(t *testing.T) {
		hc := NewHealthChecker(time.Second, nil)
		hc.AddReadinessCheck("cursor", func(context.Context) error { return errors.New("connection refused") })

		report := hc.CheckHealth(context.Background())
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, "connection refused", report.Checks[0].Message)

		rec := httptest.NewRecorder()
		hc.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = httptest.NewRecorder()
		hc.LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
