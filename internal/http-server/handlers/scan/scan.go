package scan

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
	SubmitScan(ctx context.Context, actor *entity.User, req *entity.ScanRequest) (*entity.ScanResult, error)
}

// Submit validates a presented code. Business denials come back as a
// 200 with outcome=denied; only infrastructure failures are 5xx.
func Submit(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.scan"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var scanRequest entity.ScanRequest
		if err := render.Bind(r, &scanRequest); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		actor := cont.GetUser(r.Context())
		logger = logger.With(
			slog.String("scanner", actor.Id),
			slog.String("location", scanRequest.LocationTag),
		)

		result, err := handler.SubmitScan(r.Context(), actor, &scanRequest)
		if err != nil {
			logger.Error("submit scan", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Scan could not be processed"))
			return
		}
		logger.With(
			slog.String("outcome", string(result.Outcome)),
			slog.String("reason", string(result.DenialReason)),
		).Info("scan decided")

		render.JSON(w, r, response.Ok(result))
	}
}
