package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/dispatch"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/outbox"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

const (
	MaxBodyBytes = 1 << 20

	DeliveryIDHeader = "X-Webhook-Id"
	TenantIDHeader   = "X-Tenant-Id"

	// DispatchTimeout bounds delivery plus outbox append once a webhook is
	// accepted; the sender disconnecting does not abort it.
	DispatchTimeout = 15 * time.Second
)

// CrossSystemDispatcher is implemented by dispatch.Facade.
type CrossSystemDispatcher interface {
	DispatchCrossSystem(
		ctx context.Context, eventType string, payload map[string]any, appender outbox.Appender, routing workflow.RoutingContext,
	) dispatch.CrossSystemResult
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type acceptedResponse struct {
	Status    string                      `json:"status"`
	EventType string                      `json:"eventType,omitempty"`
	Result    *dispatch.CrossSystemResult `json:"result,omitempty"`
}

type Handler struct {
	sources  map[string]Source
	facade   CrossSystemDispatcher
	appender outbox.Appender
	guard    ReplayGuard
	logger   *zap.Logger
}

// NewHandler serves verified webhooks of sources through facade. A nil
// guard disables replay protection.
func NewHandler(
	sources []Source, facade CrossSystemDispatcher, appender outbox.Appender, guard ReplayGuard, logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	bySource := make(map[string]Source, len(sources))
	for _, src := range sources {
		if src.Secret == "" {
			logger.Warn("webhook source has no shared secret, signature verification disabled",
				zap.String("source", src.Name))
		}
		bySource[src.Name] = src
	}
	return &Handler{
		sources:  bySource,
		facade:   facade,
		appender: appender,
		guard:    guard,
		logger:   logger,
	}
}

// Mount registers POST /webhooks/{source} on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/webhooks/{source}", h.ServeWebhook)
}

func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	src, ok := h.sources[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_source", "webhook source is not registered")
		return
	}
	logger := h.logger.With(zap.String("source", name))

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read request body")
		return
	}
	if len(body) > MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds 1 MiB")
		return
	}

	if !Verify(body, r.Header.Get(src.signatureHeader()), src.Secret) {
		logger.Warn("webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "unauthorized_webhook", "webhook signature is missing or invalid")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	eventType, ok := src.Translate(payload)
	if !ok {
		logger.Debug("webhook event ignored", zap.Any("type", payload[src.typeField()]))
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "ignored"})
		return
	}

	deliveryID := strings.TrimSpace(r.Header.Get(DeliveryIDHeader))
	if h.guard != nil && deliveryID != "" {
		first, err := h.guard.FirstDelivery(r.Context(), name, deliveryID)
		switch {
		case err != nil:
			// Delivery is at-least-once anyway; a replay-cache outage must not block intake.
			logger.Warn("webhook replay check failed", zap.String("delivery_id", deliveryID), zap.Error(err))
		case !first:
			writeJSON(w, http.StatusOK, acceptedResponse{Status: "duplicate", EventType: eventType})
			return
		}
	}

	routing := workflow.RoutingContext{
		TenantID:      tenantID(r, payload),
		Channel:       "webhook:" + name,
		CorrelationID: deliveryID,
	}
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), DispatchTimeout)
	defer cancel()
	result := h.facade.DispatchCrossSystem(dispatchCtx, eventType, payload, h.appender, routing)

	if result.Degraded() {
		if h.guard != nil && deliveryID != "" {
			if err := h.guard.Forget(context.WithoutCancel(r.Context()), name, deliveryID); err != nil {
				logger.Warn("webhook replay key not released", zap.String("delivery_id", deliveryID), zap.Error(err))
			}
		}
		writeJSON(w, http.StatusServiceUnavailable, acceptedResponse{Status: "degraded", EventType: eventType, Result: &result})
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", EventType: eventType, Result: &result})
}

func tenantID(r *http.Request, payload map[string]any) string {
	if tenant := strings.TrimSpace(r.Header.Get(TenantIDHeader)); tenant != "" {
		return tenant
	}
	if tenant, ok := payload["tenantId"].(string); ok {
		return tenant
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
