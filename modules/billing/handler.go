package billing

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82/webhook"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/metrics"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

type Handler struct {
	secret     string
	reconciler *Reconciler
	sessions   *Sessions
}

func NewHandler(secret string, reconciler *Reconciler, sessions *Sessions) *Handler {
	return &Handler{secret: secret, reconciler: reconciler, sessions: sessions}
}

// RegisterWebhookRoutes - 인증 없는 웹훅 라우터에 등록
func (h *Handler) RegisterWebhookRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/stripe", h.HandleWebhook).Methods("POST")
}

// RegisterRoutes - 인증된 서브라우터에 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/billing/checkout", h.HandleCheckout).Methods("POST")
	r.HandleFunc("/billing/portal", h.HandlePortal).Methods("POST")
}

// HandleWebhook - POST /api/webhooks/stripe
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		apperr.WriteJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		apperr.WriteJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		apperr.WriteJSON(w, status, webhookErrorResponse{Error: "No signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  [Billing] Stripe signature verification failed")
		status = http.StatusBadRequest
		apperr.WriteJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}
	if err := h.reconciler.HandleEvent(r.Context(), Event{ID: event.ID, Type: eventType, Raw: raw}); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", eventType).
			Msg("❌ [Billing] Stripe webhook processing failed")
		status = http.StatusInternalServerError
		apperr.WriteJSON(w, status, webhookErrorResponse{Error: "Webhook handler failed"})
		return
	}

	apperr.WriteJSON(w, http.StatusOK, receivedResponse{Received: true})
}

// HandleCheckout - POST /api/billing/checkout
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Validation("Invalid request body"))
		return
	}

	url, err := h.sessions.Checkout(r.Context(), user, req.Plan)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SessionResponse{Success: true, URL: url})
}

// HandlePortal - POST /api/billing/portal
func (h *Handler) HandlePortal(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}

	url, err := h.sessions.Portal(r.Context(), user)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SessionResponse{Success: true, URL: url})
}
