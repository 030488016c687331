package quota

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 인증된 서브라우터에 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/quota", h.HandleGetQuota).Methods("GET")
	r.HandleFunc("/plans", h.HandleListPlans).Methods("GET")
}

// HandleGetQuota - GET /api/quota
func (h *Handler) HandleGetQuota(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	q, err := h.service.Resolve(r.Context(), user)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	log.Debug().Str("user_id", user.ID).Int("used", q.Used).Str("plan", q.Plan).Msg("📊 [Quota] Resolved")
	apperr.WriteJSON(w, http.StatusOK, QuotaResponse{Success: true, Quota: q})
}

// HandleListPlans - GET /api/plans
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	apperr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"plans":   h.service.Plans().All(),
	})
}
