package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several collectors can coexist in tests.
// All methods are safe on a nil *Collector.
type Collector struct {
	registry       *prometheus.Registry
	ledgerEntries  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	casinoRounds   *prometheus.CounterVec
	lockWait       prometheus.Histogram
	lockTimeouts   prometheus.Counter
	scopeRollbacks *prometheus.CounterVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Collector{
		registry: registry,
		ledgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_entries_total",
			Help: "Ledger transactions derived, by kind",
		}, []string{"kind"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_request_transitions_total",
			Help: "Deposit/withdrawal request transitions, by request type and target status",
		}, []string{"request", "status"}),
		casinoRounds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_casino_rounds_total",
			Help: "Settled casino rounds, by game and outcome",
		}, []string{"game", "outcome"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallet_account_lock_wait_seconds",
			Help:    "Time spent waiting for the per-account lock",
			Buckets: prometheus.DefBuckets,
		}),
		lockTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "wallet_account_lock_timeouts_total",
			Help: "Account lock acquisitions that timed out",
		}),
		scopeRollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_scope_rollbacks_total",
			Help: "Locked account scopes rolled back, by reason",
		}, []string{"reason"}),
	}
}

func (c *Collector) LedgerEntry(kind string) {
	if c == nil {
		return
	}
	c.ledgerEntries.WithLabelValues(kind).Inc()
}

func (c *Collector) Transition(request, status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(request, status).Inc()
}

func (c *Collector) CasinoRound(game, outcome string) {
	if c == nil {
		return
	}
	c.casinoRounds.WithLabelValues(game, outcome).Inc()
}

func (c *Collector) LockWait(d time.Duration) {
	if c == nil {
		return
	}
	c.lockWait.Observe(d.Seconds())
}

func (c *Collector) LockTimeout() {
	if c == nil {
		return
	}
	c.lockTimeouts.Inc()
}

func (c *Collector) Rollback(reason string) {
	if c == nil {
		return
	}
	c.scopeRollbacks.WithLabelValues(reason).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

type HealthFunc func(ctx context.Context) error

// NewServer builds the /metrics and /healthz server; the caller starts it.
func (c *Collector) NewServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
}
