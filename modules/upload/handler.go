package upload

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
)

type Handler struct {
	broker *Broker
}

func NewHandler(broker *Broker) *Handler {
	return &Handler{broker: broker}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/uploads/backgrounds", h.HandleCreateSlots).Methods("POST")
}

// HandleCreateSlots - POST /api/uploads/backgrounds
func (h *Handler) HandleCreateSlots(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	var req SlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("Invalid request format"))
		return
	}

	slots, err := h.broker.IssueSlots(r.Context(), user.ID, req.Count)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, SlotsResponse{Success: true, URLs: slots})
}
