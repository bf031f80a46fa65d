package metrics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsMiddleware counts API requests and records their latency, labelled by method, route
// and status code. Unmatched routes share the "unmatched" label. Probes are not recorded and
// streaming routes are counted without a latency sample.
func HTTPMetricsMiddleware(meterProvider metric.MeterProvider, namespace string) gin.HandlerFunc {
	meter := meterProvider.Meter(namespace)

	requests, err := meter.Int64Counter(
		fmt.Sprintf("%s_http_requests_total", namespace),
		metric.WithDescription("Operator API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return passThrough
	}

	latency, err := meter.Float64Histogram(
		fmt.Sprintf("%s_http_request_duration_seconds", namespace),
		metric.WithDescription("Operator API request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		route := routeLabel(c.FullPath())
		if isProbe(route) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", route),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)
		requests.Add(c.Request.Context(), 1, attrs)
		if !isStream(route) {
			latency.Record(c.Request.Context(), time.Since(start).Seconds(), attrs)
		}
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}

// routeLabel keeps cardinality bounded by using the route pattern instead of the request path.
func routeLabel(fullPath string) string {
	if fullPath == "" {
		return "unmatched"
	}
	return fullPath
}

func isProbe(route string) bool {
	return route == "/health" || route == "/ready"
}

func isStream(route string) bool {
	return strings.HasSuffix(route, "/stream")
}
