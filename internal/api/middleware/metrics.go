// metrics.go — Prometheus HTTP метрики сервиса dms-submission.
// Бизнес-метрики (заявки, воркеры) регистрируются в соответствующих
// пакетах и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dms_http_requests_total",
			Help: "Общее количество HTTP-запросов к dms-submission",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dms_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к dms-submission в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов (идентификаторы → {id},
			// иначе кардинальность метрик растёт с каждым запросом)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(
				r.Method, normalizedPath, strconv.Itoa(wrapped.statusCode),
			).Inc()
			httpRequestDuration.WithLabelValues(
				r.Method, normalizedPath,
			).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификатор заявки в пути на {id}.
func normalizePath(path string) string {
	const prefix = "/dms-submission/submissions/"
	if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
		return prefix + "{id}"
	}
	return path
}

// metricsResponseWriter запоминает статус-код ответа.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *metricsResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
