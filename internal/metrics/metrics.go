// Package metrics holds the prometheus collectors shared by the server and
// the worker.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dailybudget/internal/core"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultNotFound = "not_found"
	ResultStore    = "store_error"
	ResultError    = "error"
)

type Registry struct {
	reg *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	Exports           *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	Watchers          prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// and process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailybudget_operations_total",
				Help: "Budget service operations by operation and result",
			},
			[]string{"operation", "result"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dailybudget_operation_duration_seconds",
				Help:    "Budget service operation latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailybudget_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dailybudget_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		Exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailybudget_exports_total",
				Help: "Ledger events handled by the export worker",
			},
			[]string{"kind", "result"},
		),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailybudget_summary_cache_hits_total",
			Help: "Summary cache hits",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailybudget_summary_cache_misses_total",
			Help: "Summary cache misses",
		}),

		Watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dailybudget_active_account_watchers",
			Help: "Open websocket watchers of the active account",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Operations,
		r.OperationDuration,
		r.HTTPRequests,
		r.HTTPDuration,
		r.Exports,
		r.CacheHits,
		r.CacheMisses,
		r.Watchers,
	)
	return r
}

// Handler serves the registry in the prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveOperation implements services.Observer.
func (r *Registry) ObserveOperation(op string, err error, elapsed time.Duration) {
	r.Operations.WithLabelValues(op, Result(err)).Inc()
	r.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveExport implements worker.ExportObserver.
func (r *Registry) ObserveExport(kind string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	r.Exports.WithLabelValues(kind, result).Inc()
}

func (r *Registry) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Result classifies an operation error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, core.ErrAccountNotFound), errors.Is(err, core.ErrSpendNotFound):
		return ResultNotFound
	case errors.Is(err, core.ErrInvalidBalance),
		errors.Is(err, core.ErrInvalidPayday),
		errors.Is(err, core.ErrPaydayInPast),
		errors.Is(err, core.ErrInvalidAmount):
		return ResultInvalid
	case errors.Is(err, core.ErrStoreUnavailable):
		return ResultStore
	default:
		return ResultError
	}
}
