package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	awspkg "github.com/yashrajoria/payment-sync/pkg/aws"
)

const unmatchedRoute = "unmatched"

// MetricsMiddleware ships one batch per request: a request count, its
// latency and, for 4xx/5xx responses, the error counters. The batch is sent
// after the response so CloudWatch latency never shows up in handlers.
func MetricsMiddleware(metricsClient *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		data := requestMetrics(serviceName, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsClient.Put(ctx, data...)
		}()
	}
}

func requestMetrics(service, method, route string, status int, took time.Duration) []awspkg.Datum {
	if route == "" {
		route = unmatchedRoute
	}
	dims := map[string]string{
		"Service": service,
		"Method":  method,
		"Path":    route,
		"Status":  statusClass(status),
	}

	data := []awspkg.Datum{
		awspkg.Count(awspkg.MetricHTTPRequests, dims),
		awspkg.Latency(awspkg.MetricHTTPLatency, took, dims),
	}
	switch {
	case status >= 500:
		data = append(data, awspkg.Count(awspkg.MetricHTTPErrors, dims), awspkg.Count(awspkg.MetricHTTP5xx, dims))
	case status >= 400:
		data = append(data, awspkg.Count(awspkg.MetricHTTPErrors, dims), awspkg.Count(awspkg.MetricHTTP4xx, dims))
	}
	return data
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
