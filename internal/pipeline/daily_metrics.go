package pipeline

import (
	"context"

	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/internal/worker"
	"github.com/angelmondragon/brandpulse/pkg/enums"
)

// MetricsCompletePayload is published after a recomputation.
type MetricsCompletePayload struct {
	Date         string `json:"date"`
	Annotated    bool   `json:"annotated"`
	RefundAmount string `json:"refundAmount"`
}

func (h *Handlers) handleDailyMetrics(ctx context.Context, payload jobs.Payload, progress worker.Progress) error {
	p, ok := payload.(jobs.DailyMetrics)
	if !ok {
		return unexpectedPayload("daily metrics", payload)
	}
	ctx = h.logg.WithFields(ctx, map[string]any{"brand_id": p.BrandID.String(), "metric_date": p.Date})

	result, err := h.metrics.Recompute(ctx, p.BrandID, p.Date)
	if err != nil {
		return err
	}
	progress(ctx, 90)

	h.notify(ctx, p.BrandID, enums.NotificationMetricsComplete, MetricsCompletePayload{
		Date:         result.Date,
		Annotated:    result.Annotated,
		RefundAmount: result.RefundAmount.StringFixed(2),
	})
	progress(ctx, 100)
	return nil
}
