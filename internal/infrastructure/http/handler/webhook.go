package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merchkit/opshub/internal/domain"
	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

type webhookAccepted struct {
	WebhookID string `json:"webhook_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// handleWebhook accepts one platform delivery. Both fresh deliveries and
// replays return 200 so platforms stop retrying; replays carry the original
// event id and a duplicate marker.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(chi.URLParam(r, "platform"))
	if !domain.IsKnownPlatform(platform) {
		response.NotFound(w, "platform")
		return
	}
	storeID := chi.URLParam(r, "storeID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.BadRequest(w, "failed to read request body")
		return
	}

	result, err := a.Ingestor.Ingest(r.Context(), platform, storeID, body, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			response.Unauthorized(w, "signature verification failed")
		case errors.Is(err, domain.ErrStoreNotFound), errors.Is(err, domain.ErrInvalidID):
			response.NotFound(w, "store")
		default:
			response.InternalError(w, r, err)
		}
		return
	}

	if result.Duplicate {
		response.OK(w, webhookAccepted{WebhookID: result.WebhookID, Duplicate: true})
		return
	}
	response.OK(w, webhookAccepted{WebhookID: result.WebhookID})
}
