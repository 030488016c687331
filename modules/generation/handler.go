package generation

import (
	"encoding/json"
	"net/http"
	"strconv"

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
	r.HandleFunc("/generations", h.HandleCreate).Methods("POST")
	r.HandleFunc("/generations", h.HandleList).Methods("GET")
	r.HandleFunc("/generations/{id}", h.HandleGet).Methods("GET")
}

// HandleCreate - POST /api/generations
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

	id, err := h.service.CreateGeneration(r.Context(), user, &req)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	apperr.WriteJSON(w, http.StatusCreated, CreateResponse{Success: true, GenerationID: id})
}

// HandleList - GET /api/generations?limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	gens, err := h.service.List(r.Context(), user, limit)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, ListResponse{Success: true, Generations: gens})
}

// HandleGet - GET /api/generations/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	detail, err := h.service.Get(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		apperr.Write(w, err)
		return
	}

	apperr.WriteJSON(w, http.StatusOK, DetailResponse{Success: true, Generation: detail})
}
