package http

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/tbcare/telecall/internal/adapter/driven/gateway/ws"
	"github.com/tbcare/telecall/internal/auth"
	"github.com/tbcare/telecall/internal/core/port"
	"github.com/tbcare/telecall/internal/core/service"
)

type Handler struct {
	AppointmentService *service.AppointmentService
	ChatService        *service.ChatService
	RoomService        *service.RoomService
	Signals            port.SignalStore
	Hub                *ws.Hub
	Verifier           *auth.Verifier
	Clock              clock.Clock
	AllowedOrigins     []string
}

func NewHandler(appointments *service.AppointmentService, chat *service.ChatService, rooms *service.RoomService, signals port.SignalStore, hub *ws.Hub, verifier *auth.Verifier, clk clock.Clock, origins []string) *Handler {
	return &Handler{
		AppointmentService: appointments,
		ChatService:        chat,
		RoomService:        rooms,
		Signals:            signals,
		Hub:                hub,
		Verifier:           verifier,
		Clock:              clk,
		AllowedOrigins:     origins,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   h.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Route("/api/appointments", func(r chi.Router) {
			r.Post("/", h.BookAppointment)
			r.Get("/{id}", h.GetAppointment)
			r.Patch("/{id}/status", h.UpdateAppointmentStatus)
			r.Get("/{id}/messages", h.ListMessages)
			r.Post("/{id}/messages", h.SendMessage)
		})

		r.Get("/ws/appointments/{id}", h.ServeWS)
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
