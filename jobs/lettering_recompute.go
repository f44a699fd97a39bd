package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/comptoir-erp/comptoir/internal/jobs"
	"github.com/comptoir-erp/comptoir/internal/lettering"
)

// LetteringHandler runs the lettering recomputation as a background job.
// Each group commits separately, so a crashed run resumes safely when the
// task is retried.
type LetteringHandler struct {
	svc     *lettering.Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewLetteringHandler constructs the handler.
func NewLetteringHandler(svc *lettering.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *LetteringHandler {
	return &LetteringHandler{svc: svc, metrics: metrics, logger: logger}
}

// Handle processes TaskLetteringRecompute tasks.
func (h *LetteringHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track("lettering_recompute")
	var payload LetteringRecomputePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}

	if payload.LetterRef != "" {
		updated, err := h.svc.RecomputeGroup(ctx, payload.LetterRef)
		if err == nil && h.logger != nil {
			h.logger.Info("lettering group recomputed",
				slog.String("letter_ref", payload.LetterRef),
				slog.Int("updated", updated))
		}
		return tracker.End(err)
	}

	summary, err := h.svc.RecomputeAll(ctx)
	if err == nil && h.logger != nil {
		h.logger.Info("lettering full pass done",
			slog.Int("groups", summary.Groups),
			slog.Int("updated_lines", summary.UpdatedLines))
	}
	return tracker.End(err)
}
