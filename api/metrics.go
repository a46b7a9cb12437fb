package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/warp/lead-exchange/broker"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	leadAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_assignments_total",
			Help: "Lead assignment attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	leadRevenue = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lead_revenue_total",
			Help: "Sum of prices of leads sold through the API",
		},
	)

	walletCredits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_credits_total",
			Help: "Wallet credits by outcome",
		},
		[]string{"outcome"},
	)

	walletCreditedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_credited_amount_total",
			Help: "Sum of amounts credited to buyer wallets",
		},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Metrics records request counts and latencies, labelled by route pattern
// so path parameters do not explode label cardinality.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// assignmentOutcome names the result of an assignment for metrics.
func assignmentOutcome(lead *broker.Lead, replayed bool, err error) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil && lead != nil && lead.Status == broker.LeadSold:
		return "sold"
	case err == nil:
		return "unmatched"
	case errors.Is(err, broker.ErrAlreadySold):
		return "already_sold"
	case errors.Is(err, broker.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, broker.ErrBuyerInactive):
		return "buyer_inactive"
	case errors.Is(err, broker.ErrNotFound):
		return "not_found"
	case errors.Is(err, broker.ErrConflict):
		return "conflict"
	case errors.Is(err, broker.ErrInvalidArgument):
		return "invalid"
	}
	return "error"
}

func recordAssignment(operation string, lead *broker.Lead, replayed bool, err error) {
	outcome := assignmentOutcome(lead, replayed, err)
	leadAssignments.WithLabelValues(operation, outcome).Inc()
	if outcome == "sold" {
		leadRevenue.Add(lead.Price.InexactFloat64())
	}
}

func recordCredit(amount decimal.Decimal, err error) {
	if err != nil {
		walletCredits.WithLabelValues("failure").Inc()
		return
	}
	walletCredits.WithLabelValues("success").Inc()
	walletCreditedAmount.Add(amount.InexactFloat64())
}
