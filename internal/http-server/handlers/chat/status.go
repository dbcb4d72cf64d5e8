package chat

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/api/response"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/lib/validate"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type StatusRequest struct {
	Status     string  `json:"status" validate:"required,oneof=active assigned closed"`
	AssignedTo *string `json:"assigned_to,omitempty"`
}

// UpdateStatus permits any transition, reopening a closed session included.
func UpdateStatus(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.chat"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req StatusRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			badRequest(w, r, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, r, err.Error())
			return
		}

		id := chi.URLParam(r, "id")
		session, err := handler.UpdateSessionStatus(r.Context(), id, entity.SessionStatus(req.Status), req.AssignedTo)
		if err != nil {
			logger.Error("update session status", slog.String("id", id), sl.Err(err))
			failed(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(session))
	}
}

func RelayStatus(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, response.Ok(handler.RelayStatus()))
	}
}

func Dashboard(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := handler.Dashboard(r.Context())
		if err != nil {
			log.With(sl.Module("http.handlers.chat")).Error("dashboard", sl.Err(err))
			failed(w, r, err)
			return
		}
		render.JSON(w, r, response.Ok(stats))
	}
}
