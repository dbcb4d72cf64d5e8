package chat

import (
	"ChatRelay/impl/core"
	"ChatRelay/internal/lib/api/cont"
	"ChatRelay/internal/lib/api/response"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/lib/validate"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type ReplyRequest struct {
	Content     string `json:"content" validate:"required"`
	ContentType string `json:"content_type,omitempty" validate:"omitempty,oneof=text media image audio video document file"`
}

// Reply stores a staff answer and forwards it to the bot gateway. The answer
// stays stored when the gateway is offline; the caller then gets 503 with the record.
func Reply(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.chat")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		staff, err := cont.GetStaff(r.Context())
		if err != nil {
			logger.Error("get staff from context", sl.Err(err))
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("Unauthorized"))
			return
		}

		var req ReplyRequest
		if err = render.DecodeJSON(r.Body, &req); err != nil {
			logger.Debug("decode reply", sl.Err(err))
			badRequest(w, r, "Invalid request body")
			return
		}
		if err = validate.Struct(req); err != nil {
			badRequest(w, r, err.Error())
			return
		}

		id := chi.URLParam(r, "id")
		result, err := handler.Reply(r.Context(), staff, id, req.Content, req.ContentType)
		if errors.Is(err, core.ErrUpstreamOffline) && result != nil {
			logger.Warn("reply not forwarded", slog.String("session_id", id), slog.Int64("message_id", result.Message.ID))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.ErrorWithData(err.Error(), result))
			return
		}
		if err != nil {
			logger.Error("reply", slog.String("session_id", id), sl.Err(err))
			failed(w, r, err)
			return
		}

		logger.Info("staff reply forwarded",
			slog.String("session_id", id),
			slog.String("staff", staff.UserID),
		)
		render.JSON(w, r, response.Ok(result))
	}
}
