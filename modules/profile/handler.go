package profile

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/model"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/profile", h.HandleGet).Methods("GET")
	r.HandleFunc("/profile", h.HandleUpdate).Methods("PATCH")
	r.HandleFunc("/profile/avatar", h.HandleAvatar).Methods("PUT")
	r.HandleFunc("/profile/onboarding/complete", h.HandleCompleteOnboarding).Methods("POST")
}

// HandleGet - GET /api/profile
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}
	h.respond(w)(h.service.Get(r.Context(), user))
}

// HandleUpdate - PATCH /api/profile
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("Invalid request format"))
		return
	}
	h.respond(w)(h.service.UpdateName(r.Context(), user, req.FullName))
}

// HandleAvatar - PUT /api/profile/avatar
func (h *Handler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	var req AvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("Invalid request format"))
		return
	}
	h.respond(w)(h.service.UpdateAvatar(r.Context(), user, req.AvatarURL))
}

// HandleCompleteOnboarding - POST /api/profile/onboarding/complete
func (h *Handler) HandleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}
	h.respond(w)(h.service.CompleteOnboarding(r.Context(), user))
}

func (h *Handler) respond(w http.ResponseWriter) func(*model.Profile, error) {
	return func(p *model.Profile, err error) {
		if err != nil {
			apperr.Write(w, err)
			return
		}
		apperr.WriteJSON(w, http.StatusOK, ProfileResponse{Success: true, Profile: p})
	}
}
