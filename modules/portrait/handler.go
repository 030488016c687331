package portrait

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/portraits", h.HandleList).Methods("GET")
	r.HandleFunc("/portraits", h.HandleCreate).Methods("POST")
	r.HandleFunc("/portraits/upload", h.HandleUploadSlot).Methods("POST")
	r.HandleFunc("/portraits/{id}", h.HandleUpdateLabel).Methods("PATCH")
	r.HandleFunc("/portraits/{id}", h.HandleDelete).Methods("DELETE")
	r.HandleFunc("/portraits/{id}/activate", h.HandleActivate).Methods("POST")
}

// HandleList - GET /api/portraits
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	portraits, err := h.service.List(r.Context(), user)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, ListResponse{Success: true, Portraits: portraits})
}

// HandleUploadSlot - POST /api/portraits/upload
func (h *Handler) HandleUploadSlot(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	slot, err := h.service.IssueUploadSlot(r.Context(), user)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SlotResponse{Success: true, UploadSlot: slot})
}

// HandleCreate - POST /api/portraits
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("Invalid request format"))
		return
	}

	p, err := h.service.Create(r.Context(), user, &req)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, PortraitResponse{Success: true, Portrait: p})
}

// HandleUpdateLabel - PATCH /api/portraits/{id}
func (h *Handler) HandleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	var req LabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("Invalid request format"))
		return
	}

	if err := h.service.UpdateLabel(r.Context(), user, mux.Vars(r)["id"], req.Label); err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// HandleActivate - POST /api/portraits/{id}/activate
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	if err := h.service.Activate(r.Context(), user, mux.Vars(r)["id"]); err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// HandleDelete - DELETE /api/portraits/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	if err := h.service.Delete(r.Context(), user, mux.Vars(r)["id"]); err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
