package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters for the ledger core.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	journalsPosted   prometheus.Counter
	postingFailures  *prometheus.CounterVec
	stockMovements   *prometheus.CounterVec
	letteringGroups  prometheus.Counter
	letteringUpdates prometheus.Counter
	auditRuns        *prometheus.CounterVec
	unbalanced       prometheus.Counter
}

// NewMetrics initialises the registry and the core counters.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	journals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comptoir_journals_posted_total",
		Help: "Journal entries posted successfully.",
	})
	postingFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comptoir_posting_failures_total",
		Help: "Rejected postings by reason.",
	}, []string{"reason"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comptoir_stock_movements_total",
		Help: "Stock movements applied by movement type.",
	}, []string{"type"})
	groups := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comptoir_lettering_groups_recomputed_total",
		Help: "Lettering groups recomputed.",
	})
	updates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comptoir_lettering_lines_updated_total",
		Help: "Ledger lines whose lettering state changed.",
	})
	audits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comptoir_audit_runs_total",
		Help: "Subledger audit runs by balanced flag.",
	}, []string{"balanced"})
	unbalanced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "comptoir_gl_unbalanced_entries_total",
		Help: "Journal entries found unbalanced by the integrity scan.",
	})
	registry.MustRegister(journals, postingFailures, movements, groups, updates, audits, unbalanced)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		journalsPosted:   journals,
		postingFailures:  postingFailures,
		stockMovements:   movements,
		letteringGroups:  groups,
		letteringUpdates: updates,
		auditRuns:        audits,
		unbalanced:       unbalanced,
	}
}

// Registry exposes the underlying registry so other packages can add their
// own collectors to the same /metrics endpoint.
func (m *Metrics) Registry() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// JournalPosted increments the posted-entries counter.
func (m *Metrics) JournalPosted() {
	if m != nil {
		m.journalsPosted.Inc()
	}
}

// PostingRejected increments the failure counter for the given reason.
func (m *Metrics) PostingRejected(reason string) {
	if m != nil {
		m.postingFailures.WithLabelValues(reason).Inc()
	}
}

// StockMovementApplied increments the movement counter for the given type.
func (m *Metrics) StockMovementApplied(movementType string) {
	if m != nil {
		m.stockMovements.WithLabelValues(movementType).Inc()
	}
}

// LetteringRecomputed records one recomputed group and its changed lines.
func (m *Metrics) LetteringRecomputed(updatedLines int) {
	if m != nil {
		m.letteringGroups.Inc()
		m.letteringUpdates.Add(float64(updatedLines))
	}
}

// AuditRun records a subledger audit run.
func (m *Metrics) AuditRun(balanced bool) {
	if m != nil {
		m.auditRuns.WithLabelValues(strconv.FormatBool(balanced)).Inc()
	}
}

// UnbalancedEntryFound records an integrity-scan hit.
func (m *Metrics) UnbalancedEntryFound() {
	if m != nil {
		m.unbalanced.Inc()
	}
}
