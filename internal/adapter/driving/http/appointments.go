package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tbcare/telecall/internal/auth"
	"github.com/tbcare/telecall/internal/core/domain"
)

type bookRequest struct {
	DoctorID        domain.UserID `json:"doctor_id"`
	AppointmentDate time.Time     `json:"appointment_date"`
}

type statusRequest struct {
	Status domain.AppointmentStatus `json:"status"`
}

type messageRequest struct {
	Content string `json:"content"`
}

// requestUser and appointmentParam write the error response themselves and
// report whether the handler may continue.
func requestUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	u, ok := auth.UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing token")
	}
	return u, ok
}

func appointmentParam(w http.ResponseWriter, r *http.Request) (domain.AppointmentID, bool) {
	id, err := domain.ParseAppointmentID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return domain.AppointmentID{}, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// BookAppointment books on behalf of the authenticated patient.
func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.AppointmentService.Book(r.Context(), user.ID, req.DoctorID, req.AppointmentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}
	appt, err := h.AppointmentService.Get(r.Context(), id, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.AppointmentService.UpdateStatus(r.Context(), id, user.ID, req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}
	msgs, err := h.ChatService.History(r.Context(), user.ID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.ChatService.SendMessage(r.Context(), user.ID, id, req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
