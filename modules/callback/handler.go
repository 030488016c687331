package callback

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/metrics"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	ingestor *Ingestor
}

func NewHandler(ingestor *Ingestor) *Handler {
	return &Handler{ingestor: ingestor}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/n8n-callback", h.HandleCallback).Methods("POST")
}

// HandleCallback - POST /api/webhooks/n8n-callback
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, apperr.Validation("Invalid JSON payload"))
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.fail(w, err)
		return
	}

	metrics.CallbacksTotal.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	apperr.WriteJSON(w, http.StatusOK, Response{Success: true, Message: result.Message})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	metrics.CallbacksTotal.WithLabelValues(strconv.Itoa(apperr.Status(apperr.KindOf(err)))).Inc()
	apperr.Write(w, err)
}
