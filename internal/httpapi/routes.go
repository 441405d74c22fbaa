package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/battle"
	"github.com/DoyleJ11/battle-backend/internal/hub"
	"github.com/DoyleJ11/battle-backend/internal/ingress"
	"github.com/DoyleJ11/battle-backend/internal/ws"
)

type Deps struct {
	Hub           *hub.Hub
	Battles       *battle.Service
	IngressSecret string
	WS            ws.Options
	Log           *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	api := newAPI(d.Battles, d.Hub, d.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	// The websocket route skips the access log; a connection is not a request.
	r.Get("/ws", ws.Handler(d.Hub, d.Battles, d.WS, d.Log.Named("ws")))

	r.Group(func(r chi.Router) {
		r.Use(accessLog(d.Log.Named("http")))

		r.Post(ingress.Path, ingress.Handler(d.IngressSecret, d.Hub, d.Log.Named("ingress")))

		r.Route("/battles", func(r chi.Router) {
			r.Post("/", api.createBattle)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", api.getBattle)
				r.Post("/verses", api.submitVerse)
				r.Post("/votes", api.vote)
				r.Post("/advance", api.advance)
				r.Post("/pause", api.pause)
				r.Post("/resume", api.resume)
				r.Post("/live", api.startLive)
				r.Delete("/live", api.endLive)
				r.Post("/comments", api.comment)
				r.Get("/room", api.room)
			})
		})
	})
	return r
}
