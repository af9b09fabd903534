package passes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"passgate/entity"
	"passgate/impl/core"
	"passgate/impl/minter"
	"passgate/lib/api/cont"
	"passgate/lib/api/response"
	"passgate/lib/sl"
)

type Core interface {
	IssueVisitorToken(ctx context.Context, actor *entity.User, req *entity.VisitorPassRequest) (*entity.IssuedPass, error)
	ResolveOwnerTokens(ctx context.Context, actor *entity.User) ([]*entity.IssuedPass, error)
	RevokeToken(ctx context.Context, actor *entity.User, tokenId string) (bool, error)
}

// IssueVisitor mints a visitor pass for one of the caller's units.
func IssueVisitor(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.passes"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var passRequest entity.VisitorPassRequest
		if err := render.Bind(r, &passRequest); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		actor := cont.GetUser(r.Context())
		pass, err := handler.IssueVisitorToken(r.Context(), actor, &passRequest)
		if err != nil {
			status, msg := issueError(err)
			logger.With(slog.Int("status", status)).Warn("issue visitor pass", sl.Err(err))
			render.Status(r, status)
			render.JSON(w, r, response.Error(msg))
			return
		}
		logger.With(
			slog.String("record_id", pass.RecordId),
			slog.String("unit_id", passRequest.UnitId),
		).Info("visitor pass issued")

		render.JSON(w, r, response.Ok(pass))
	}
}

func issueError(err error) (int, string) {
	switch {
	case errors.Is(err, minter.ErrInvalidWindow):
		return http.StatusBadRequest, "Pass window is invalid: valid_to must be after valid_from"
	case errors.Is(err, minter.ErrScopeConflict):
		return http.StatusForbidden, "You hold no key for this unit"
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many passes issued, try again later"
	}
	return http.StatusInternalServerError, "Pass could not be issued"
}

// ResolveOwner returns the caller's owner passes for the active season,
// minting them lazily on first resolution.
func ResolveOwner(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.passes"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor := cont.GetUser(r.Context())
		list, err := handler.ResolveOwnerTokens(r.Context(), actor)
		if err != nil {
			logger.Error("resolve owner passes", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Passes could not be resolved"))
			return
		}
		logger.With(slog.Int("count", len(list))).Debug("owner passes resolved")

		render.JSON(w, r, response.Ok(list))
	}
}

// Revoke deactivates a pass by id. Allowed for its owner or for
// management within the same compound.
func Revoke(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.passes"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		tokenId := chi.URLParam(r, "id")
		actor := cont.GetUser(r.Context())

		ok, err := handler.RevokeToken(r.Context(), actor, tokenId)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.Error("Pass not found"))
			case errors.Is(err, core.ErrScopeViolation):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("You may not revoke this pass"))
			default:
				logger.Error("revoke pass", sl.Err(err))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("Pass could not be revoked"))
			}
			return
		}
		logger.With(slog.String("token_id", tokenId)).Info("pass revoked")

		render.JSON(w, r, response.Ok(ok))
	}
}
