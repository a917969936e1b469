package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestHTTPMetrics_RecordsRequests(t *testing.T) {
	reader, provider := newTestMeter(t)

	router := gin.New()
	router.Use(HTTPMetrics(provider.Meter("http-test")))
	router.GET("/api/v1/sales/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/api/v1/webhooks/mercadopago", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/sales/8d6f0b7e-1111-4a2b-9c3d-000000000001", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/sales/8d6f0b7e-1111-4a2b-9c3d-000000000002", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", nil),
	} {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	total, ok := findMetric(rm, "http_server_request_total")
	require.True(t, ok)
	sum, ok := total.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("http.route"))
		counts[route.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), counts["/api/v1/sales/:id"], "raw ids must collapse into the route pattern")
	assert.Equal(t, int64(1), counts["/api/v1/webhooks/mercadopago"])

	_, ok = findMetric(rm, "http_server_request_duration_seconds")
	assert.True(t, ok)

	active, ok := findMetric(rm, "http_server_active_requests")
	require.True(t, ok)
	for _, dp := range active.Data.(metricdata.Sum[int64]).DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestHTTPMetrics_UnknownRoute(t *testing.T) {
	reader, provider := newTestMeter(t)

	router := gin.New()
	router.Use(HTTPMetrics(provider.Meter("http-test")))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	total, ok := findMetric(rm, "http_server_request_total")
	require.True(t, ok)
	dp := total.Data.(metricdata.Sum[int64]).DataPoints[0]
	route, _ := dp.Attributes.Value(attribute.Key("http.route"))
	assert.Equal(t, "unknown", route.AsString())
}

func TestHTTPMetrics_NilMeter(t *testing.T) {
	router := gin.New()
	router.Use(HTTPMetrics(nil))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPMetricsStatusGroup(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		202: "2xx",
		304: "3xx",
		401: "4xx",
		429: "4xx",
		503: "5xx",
		101: "other",
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPMetricsStatusGroup(code), "status %d", code)
	}
}
