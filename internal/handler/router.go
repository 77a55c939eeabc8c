package handler

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/facechat/backend/internal/handler/chat"
	"github.com/zhouzirui/facechat/backend/internal/handler/session"
	"github.com/zhouzirui/facechat/backend/internal/handler/speech"
	"github.com/zhouzirui/facechat/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/facechat/backend/internal/middleware"
	chatService "github.com/zhouzirui/facechat/backend/internal/service/chat"
	sessionService "github.com/zhouzirui/facechat/backend/internal/service/session"
)

// Services are the dependencies the router wires into handlers.
type Services struct {
	Chat        *chatService.Service
	Sessions    *sessionService.Manager
	SessionDeps sessionService.Deps
	Speech      speech.SpeechService
	Registry    *prometheus.Registry
	// Static is the browser client. Nil disables it.
	Static fs.FS
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(svc.Chat)
	sessionHandler := session.New(svc.Chat, svc.Sessions, svc.SessionDeps)
	speechHandler := speech.New(svc.Speech, svc.SessionDeps.Config.Capture.Language)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		sessionHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
	})

	if svc.Registry != nil {
		r.Handle("/metrics", metrics.Handler(svc.Registry))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if svc.Static != nil {
		r.Handle("/*", http.FileServerFS(svc.Static))
	}

	return r
}
