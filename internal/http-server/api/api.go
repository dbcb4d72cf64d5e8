package api

import (
	"ChatRelay/internal/config"
	"ChatRelay/internal/http-server/handlers/chat"
	"ChatRelay/internal/http-server/handlers/errors"
	"ChatRelay/internal/http-server/middleware/authenticate"
	"ChatRelay/internal/http-server/middleware/timeout"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/ws"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	chat.Core
}

// NewRouter mounts the control API, the staff websocket endpoint, metrics and health check.
func NewRouter(conf *config.Config, log *slog.Logger, handler Handler, auth authenticate.Authenticate, hub *ws.Hub) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get(conf.Listen.WsPath, func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, auth, log, w, r)
	})

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(timeout.Timeout(5))
		v1.Use(render.SetContentType(render.ContentTypeJSON))
		v1.Use(authenticate.New(log, auth))

		v1.Route("/chat", func(r chi.Router) {
			r.Get("/status", chat.RelayStatus(log, handler))
			r.Get("/dashboard", chat.Dashboard(log, handler))
			r.Get("/sessions", chat.ListSessions(log, handler))
			r.Get("/sessions/external/{externalId}", chat.FindSession(log, handler))
			r.Route("/sessions/{id}", func(s chi.Router) {
				s.Get("/", chat.GetSession(log, handler))
				s.Get("/messages", chat.GetMessages(log, handler))
				s.Post("/reply", chat.Reply(log, handler))
				s.Patch("/status", chat.UpdateStatus(log, handler))
			})
		})
	})

	return router
}

func New(conf *config.Config, log *slog.Logger, router http.Handler) *Server {
	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	return &Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
		httpServer: &http.Server{
			Handler:  router,
			ErrorLog: httpLog,
		},
	}
}

// Serve blocks until the server stops. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Serve() error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	s.log.Info("starting api server", slog.String("address", serverAddress))

	return s.httpServer.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
