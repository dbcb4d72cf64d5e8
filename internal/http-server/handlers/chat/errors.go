package chat

import (
	"ChatRelay/impl/core"
	repository "ChatRelay/internal/database"
	"ChatRelay/internal/lib/api/response"
	"ChatRelay/internal/service/chatsync"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// failed writes err as a JSON error with the status it maps to.
func failed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("Session not found"))
	case errors.Is(err, chatsync.ErrInvalidStatus), errors.Is(err, core.ErrEmptyReply):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
	default:
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("Internal error"))
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, response.Error(message))
}
