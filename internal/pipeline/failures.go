package pipeline

import (
	"context"

	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/queue"
)

// FailurePayload tells clients which work gave up.
type FailurePayload struct {
	JobID    string `json:"jobId"`
	Date     string `json:"date,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// OnTerminalFailure publishes a failed notification for aggregation and
// backfill jobs that exhausted their retries.
func (h *Handlers) OnTerminalFailure(ctx context.Context, job *queue.Job, cause error) {
	payload, err := h.registry.Decode(job.Kind, job.Payload)
	if err != nil {
		return
	}

	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(cause); typed != nil {
		code = typed.Code()
	}
	failure := FailurePayload{
		JobID:    job.ID,
		Code:     string(code),
		Message:  pkgerrors.MetadataFor(code).PublicMessage,
		Attempts: job.AttemptsMade,
	}

	switch p := payload.(type) {
	case jobs.DailyMetrics:
		failure.Date = p.Date
		h.notify(ctx, p.BrandID, enums.NotificationMetricsFailed, failure)
	case jobs.HistoricalSync:
		h.notify(ctx, p.BrandID, enums.NotificationHistoricalSyncFailed, failure)
	}
}
