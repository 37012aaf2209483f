// Package metrics holds the accountant's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	acctTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_transfers_total",
		Help: "Transfers processed, by result.",
	}, []string{"result"})

	acctLedgerEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acct_ledger_entries",
		Help: "Number of entries in the hash chain.",
	})

	acctDatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_datagrams_total",
		Help: "Datagrams received by the RPC server, by outcome.",
	}, []string{"outcome"})

	acctRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	acctRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acct_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordTransfer records the outcome of a processed transfer. result is
// "applied" or the rejection reason.
func RecordTransfer(result string) {
	acctTransfersTotal.WithLabelValues(result).Inc()
}

// SetLedgerEntries sets the chain length gauge.
func SetLedgerEntries(n int) {
	acctLedgerEntries.Set(float64(n))
}

// RecordDatagram records what the RPC server did with one datagram:
// "handled", "malformed", "rate_limited", or "send_error".
func RecordDatagram(outcome string) {
	acctDatagramsTotal.WithLabelValues(outcome).Inc()
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		acctRequestsTotal.WithLabelValues(method, path, status).Inc()
		acctRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
