package httpx

import (
	"context"
	"github.com/ariefcatur/stockkeeper/internal/metrics"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/ariefcatur/stockkeeper/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"net/http"
	"strconv"
	"time"
)

// Idempotency is the create-order guard; redisx.Idempotency in production.
type Idempotency interface {
	Claim(ctx context.Context, userID, key string) (string, error)
	Complete(ctx context.Context, userID, key, orderID string) error
	Abandon(ctx context.Context, userID, key string) error
}

// StatusReader serves the order status projection; redisx.StatusCache in production.
type StatusReader interface {
	Get(ctx context.Context, orderID string) (redisx.OrderStatus, bool, error)
}

// Deps wires the router. Idem, Status, the metrics and Gatherer are optional.
type Deps struct {
	Orders       *orders.Service
	Idem         Idempotency
	Status       StatusReader
	Server       *metrics.ServerMetrics
	OrderMetrics *metrics.OrderMetrics
	Gatherer     prometheus.Gatherer
	Log          logrus.FieldLogger
	Timeout      time.Duration
}

func NewRouter(d Deps) *chi.Mux {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(d.Log), middleware.Recoverer)
	if d.Server != nil {
		r.Use(instrument(d.Server))
	}
	r.Use(middleware.Timeout(d.Timeout), traceID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	ph := &ProductsHandler{Orders: d.Orders, Metrics: d.OrderMetrics, Log: d.Log}
	ph.Register(r)
	oh := &OrdersHandler{Orders: d.Orders, Idem: d.Idem, Status: d.Status, Metrics: d.OrderMetrics, Log: d.Log}
	oh.Register(r)
	return r
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			entry := log.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Info("http request")
		})
	}
}

func instrument(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			m.LatencyMS.WithLabelValues(route, r.Method).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}

// traceID carries the request id into emitted events.
func traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
