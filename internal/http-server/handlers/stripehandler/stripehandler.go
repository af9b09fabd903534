package stripehandler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"

	"passgate/lib/sl"
)

type Core interface {
	StripeVerifySignature(payload []byte, header string, tolerance time.Duration) bool
	StripeEvent(ctx context.Context, evt *stripe.Event)
}

// Event receives Stripe webhook deliveries. The endpoint sits outside
// the authenticated /v1 tree; the signature check is its only guard.
func Event(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const tolerance = 5 * time.Minute
		log := logger.With(
			sl.Module("http.handlers.stripe"),
			slog.String("path", r.URL.Path),
		)

		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			log.Error("read request body", sl.Err(err))
			http.Error(w, "read", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("Stripe-Signature")
		if !handler.StripeVerifySignature(payload, sig, tolerance) {
			log.Error("invalid webhook signature")
			http.Error(w, "signature", http.StatusBadRequest)
			return
		}

		var evt stripe.Event
		if err = json.Unmarshal(payload, &evt); err != nil {
			log.Error("unmarshal event", sl.Err(err))
			http.Error(w, "json", http.StatusBadRequest)
			return
		}

		log.With(
			slog.String("event_id", evt.ID),
			slog.Any("type", evt.Type),
		).Debug("webhook event received")

		handler.StripeEvent(r.Context(), &evt)

		w.WriteHeader(http.StatusOK)
	}
}
