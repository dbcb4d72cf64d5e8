package chat

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/api/response"
	"ChatRelay/internal/lib/sl"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

func ListSessions(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.chat")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		query := r.URL.Query()
		filter := entity.SessionFilter{
			Status: entity.SessionStatus(query.Get("status")),
		}
		if ch := query.Get("channel"); ch != "" {
			filter.Channel = entity.ParseChannel(ch)
		}

		var err error
		if filter.Limit, err = intParam(query.Get("limit")); err != nil {
			badRequest(w, r, "limit must be a number")
			return
		}
		if filter.Offset, err = intParam(query.Get("offset")); err != nil {
			badRequest(w, r, "offset must be a number")
			return
		}

		sessions, err := handler.ListSessions(r.Context(), filter)
		if err != nil {
			logger.Error("list sessions", sl.Err(err))
			failed(w, r, err)
			return
		}

		logger.Debug("sessions listed", slog.Int("count", len(sessions)))
		render.JSON(w, r, response.Ok(sessions))
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
