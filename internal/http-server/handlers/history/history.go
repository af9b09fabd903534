package history

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"passgate/entity"
	"passgate/lib/api/cont"
	"passgate/lib/api/response"
	"passgate/lib/sl"
)

type Core interface {
	ListScanHistory(ctx context.Context, actor *entity.User, q *entity.HistoryQuery) (*entity.ScanPage, error)
}

// List pages through the scan ledger. Filters arrive as query
// parameters; tenancy is enforced by the engine, not here.
func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.history"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		q := queryFromRequest(r)
		actor := cont.GetUser(r.Context())

		page, err := handler.ListScanHistory(r.Context(), actor, q)
		if err != nil {
			logger.Error("list scan history", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("History could not be listed"))
			return
		}
		logger.With(
			slog.Int("items", len(page.Items)),
			slog.Int64("total", page.Total),
		).Debug("history listed")

		render.JSON(w, r, response.Ok(page))
	}
}

func queryFromRequest(r *http.Request) *entity.HistoryQuery {
	values := r.URL.Query()
	q := &entity.HistoryQuery{
		TokenId:       values.Get("token_id"),
		OwnerUserId:   values.Get("owner"),
		ScannerUserId: values.Get("scanner"),
	}
	if t, err := time.Parse(time.RFC3339, values.Get("from")); err == nil {
		q.From = t
	}
	if t, err := time.Parse(time.RFC3339, values.Get("to")); err == nil {
		q.To = t
	}
	if n, err := strconv.ParseInt(values.Get("page"), 10, 64); err == nil {
		q.Page = n
	}
	if n, err := strconv.ParseInt(values.Get("per_page"), 10, 64); err == nil {
		q.PerPage = n
	}
	return q
}
