package chat

import (
	"ChatRelay/internal/lib/api/response"
	"ChatRelay/internal/lib/sl"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

func GetSession(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.chat"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id := chi.URLParam(r, "id")
		session, err := handler.GetSession(r.Context(), id)
		if err != nil {
			logger.Debug("get session", slog.String("id", id), sl.Err(err))
			failed(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(session))
	}
}

// FindSession resolves a gateway session id to the stored session.
func FindSession(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		externalID := chi.URLParam(r, "externalId")
		session, err := handler.FindSession(r.Context(), externalID)
		if err != nil {
			log.With(
				sl.Module("http.handlers.chat"),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			).Debug("find session", slog.String("external_id", externalID), sl.Err(err))
			failed(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(session))
	}
}

func GetMessages(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.chat"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		limit, err := intParam(r.URL.Query().Get("limit"))
		if err != nil {
			badRequest(w, r, "limit must be a number")
			return
		}

		id := chi.URLParam(r, "id")
		messages, err := handler.GetSessionMessages(r.Context(), id, limit)
		if err != nil {
			logger.Debug("get session messages", slog.String("id", id), sl.Err(err))
			failed(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(messages))
	}
}
