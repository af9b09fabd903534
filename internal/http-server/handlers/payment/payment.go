package payment

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"passgate/entity"
	"passgate/lib/api/cont"
	"passgate/lib/api/response"
	"passgate/lib/sl"
)

type Core interface {
	CreatePaymentLink(ctx context.Context, actor *entity.User, req *entity.PaymentLinkRequest) (*entity.PaymentDetail, error)
}

// Link creates a Stripe checkout link for an unpaid service of the
// caller's unit, so a PAYMENT_REQUIRED denial can be settled from the
// phone at the gate.
func Link(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.payment"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("payments service not available")
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("Payments service not available"))
			return
		}

		var linkRequest entity.PaymentLinkRequest
		if err := render.Bind(r, &linkRequest); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.String("unit_id", linkRequest.UnitId),
			slog.String("service", linkRequest.ServiceName),
		)

		actor := cont.GetUser(r.Context())
		detail, err := handler.CreatePaymentLink(r.Context(), actor, &linkRequest)
		if err != nil {
			logger.Error("create payment link", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Get link: %v", err)))
			return
		}
		logger.Debug("payment link created")

		render.JSON(w, r, response.Ok(detail))
	}
}
