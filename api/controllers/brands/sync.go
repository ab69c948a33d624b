package brands

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/api/responses"
	"github.com/angelmondragon/brandpulse/api/validators"
	"github.com/angelmondragon/brandpulse/internal/ingest"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/queue"
)

// EventHandler enqueues a normalized commerce event.
type EventHandler interface {
	Handle(ctx context.Context, event ingest.Event) (queue.JobRef, error)
}

type historicalSyncRequest struct {
	CreatedAtMin *time.Time `json:"createdAtMin,omitempty"`
	CreatedAtMax *time.Time `json:"createdAtMax,omitempty"`
	RequestedBy  string     `json:"requestedBy,omitempty" validate:"omitempty,max=128"`
}

type historicalSyncResponse struct {
	JobID     string `json:"jobId"`
	Coalesced bool   `json:"coalesced"`
}

// HistoricalSync queues a backfill for the brand in the URL. A backfill
// already pending for the brand is reported as coalesced.
func HistoricalSync(svc EventHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		brandID, err := uuid.Parse(chi.URLParam(r, "brandID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid brand id"))
			return
		}

		var req historicalSyncRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if req.CreatedAtMin != nil && req.CreatedAtMax != nil && req.CreatedAtMax.Before(*req.CreatedAtMin) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "createdAtMax must not precede createdAtMin").
				WithDetails(map[string]string{"createdAtMax": "must be after createdAtMin"}))
			return
		}

		payload, err := json.Marshal(ingest.SyncRequest{
			CreatedAtMin: req.CreatedAtMin,
			CreatedAtMax: req.CreatedAtMax,
			RequestedBy:  req.RequestedBy,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode sync request"))
			return
		}

		ref, err := svc.Handle(ctx, ingest.Event{
			ID:         uuid.NewString(),
			Type:       enums.CommerceEventHistoricalSync,
			BrandID:    &brandID,
			OccurredAt: time.Now().UTC(),
			Payload:    payload,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, historicalSyncResponse{JobID: ref.ID, Coalesced: ref.Coalesced})
	}
}
