package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ordersPlacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Total number of orders placed",
		},
		[]string{"payment_method"},
	)

	orderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Total number of order status transitions",
		},
		[]string{"from", "to"},
	)

	paymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Total number of payment verifications by outcome",
		},
		[]string{"result"},
	)

	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Total number of refund state changes",
		},
		[]string{"status"},
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Total number of gateway webhooks by event and outcome",
		},
		[]string{"event", "result"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Payment gateway call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	catalogCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_lookups_total",
			Help: "Restaurant cache lookups by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(ordersPlacedTotal)
	prometheus.MustRegister(orderTransitionsTotal)
	prometheus.MustRegister(paymentVerificationsTotal)
	prometheus.MustRegister(refundsTotal)
	prometheus.MustRegister(webhooksTotal)
	prometheus.MustRegister(gatewayRequestDuration)
	prometheus.MustRegister(catalogCacheTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordOrderPlaced(method string) {
	ordersPlacedTotal.WithLabelValues(method).Inc()
}

func RecordOrderTransition(from, to string) {
	orderTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordPaymentVerification(result string) {
	paymentVerificationsTotal.WithLabelValues(result).Inc()
}

func RecordRefund(status string) {
	refundsTotal.WithLabelValues(status).Inc()
}

func RecordWebhook(event, result string) {
	webhooksTotal.WithLabelValues(event, result).Inc()
}

func ObserveGatewayCall(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayRequestDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

func RecordCatalogCache(result string) {
	catalogCacheTotal.WithLabelValues(result).Inc()
}
