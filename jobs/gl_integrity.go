package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/comptoir-erp/comptoir/internal/jobs"
	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/observability"
)

// defaultIntegrityWindow is scanned when the payload gives no bounds.
const defaultIntegrityWindow = 31 * 24 * time.Hour

// GLIntegrityReport summarises one integrity run.
type GLIntegrityReport struct {
	Checked    int
	Unbalanced int
}

// GLIntegrityHandler re-verifies that posted journal entries still balance.
// Entries are immutable, so any hit points at storage corruption or a write
// path that bypassed the posting service.
type GLIntegrityHandler struct {
	repo       ledger.Repository
	metrics    *observability.Metrics
	jobMetrics *jobmetrics.Metrics
	logger     *slog.Logger
}

// NewGLIntegrityHandler constructs the handler.
func NewGLIntegrityHandler(repo ledger.Repository, metrics *observability.Metrics, jobMetrics *jobmetrics.Metrics, logger *slog.Logger) *GLIntegrityHandler {
	return &GLIntegrityHandler{repo: repo, metrics: metrics, jobMetrics: jobMetrics, logger: logger}
}

// Handle processes TaskGLIntegrity tasks.
func (h *GLIntegrityHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.jobMetrics.Track("gl_integrity")
	var payload GLIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	_, err := h.Run(ctx, payload.From, payload.To)
	return tracker.End(err)
}

// Run scans entries in [from, to] and reports the unbalanced ones.
func (h *GLIntegrityHandler) Run(ctx context.Context, from, to time.Time) (GLIntegrityReport, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-defaultIntegrityWindow)
	}
	entries, err := h.repo.ListEntries(ctx, from, to)
	if err != nil {
		return GLIntegrityReport{}, err
	}
	report := GLIntegrityReport{}
	for _, entry := range entries {
		full, err := h.repo.GetEntryWithLines(ctx, entry.ID)
		if err != nil {
			return report, err
		}
		report.Checked++
		if full.Balanced() {
			continue
		}
		report.Unbalanced++
		h.metrics.UnbalancedEntryFound()
		if h.logger != nil {
			debit, credit := full.Totals()
			h.logger.Warn("unbalanced journal entry",
				slog.String("ref", full.Ref()),
				slog.String("debit", debit.String()),
				slog.String("credit", credit.String()))
		}
	}
	if h.logger != nil {
		h.logger.Info("gl integrity scan done",
			slog.Int("checked", report.Checked),
			slog.Int("unbalanced", report.Unbalanced))
	}
	return report, nil
}
