package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/service"
)

func newMetricsRouter(h *MetricsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", h.Prometheus)
	router.GET("/metrics/summary", h.Summary)
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	return router
}

func TestMetricsHandlerSummary(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordCacheOperation(true, 0)
	metrics.RecordCacheOperation(false, 0)
	router := newMetricsRouter(NewMetricsHandler(metrics, nil))

	w := performJSON(router, http.MethodGet, "/metrics/summary", nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.InDelta(t, 0.5, data["cache_hit_ratio"], 0.0001)
}

func TestMetricsHandlerPrometheusUnavailableWithoutService(t *testing.T) {
	router := newMetricsRouter(NewMetricsHandler(nil, nil))

	w := performJSON(router, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsHandlerReadiness(t *testing.T) {
	healthy := newMetricsRouter(NewMetricsHandler(nil, func() error { return nil }))
	assert.Equal(t, http.StatusOK, performJSON(healthy, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, performJSON(healthy, http.MethodGet, "/health", nil).Code)

	down := newMetricsRouter(NewMetricsHandler(nil, func() error { return errors.New("connection refused") }))
	assert.Equal(t, http.StatusServiceUnavailable, performJSON(down, http.MethodGet, "/ready", nil).Code)
}
