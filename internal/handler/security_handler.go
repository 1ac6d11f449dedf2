package handler

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"security-service/internal/models"
	"security-service/internal/service"
	"security-service/internal/util"
)

// SecurityHandler exposes the pipeline over HTTP for the host application
// and operator tooling.
type SecurityHandler struct {
	security *service.SecurityService
	logger   *zap.Logger
}

func NewSecurityHandler(security *service.SecurityService, logger *zap.Logger) *SecurityHandler {
	return &SecurityHandler{security: security, logger: logger}
}

func (h *SecurityHandler) RegisterRoutes(r chi.Router) {
	r.Post("/ratelimit/check", h.checkRateLimit)
	r.Post("/ratelimit/skip", h.skipRateLimit)
	r.Post("/events", h.recordEvent)
	r.Post("/events/process", h.processEvent)
	r.Get("/metrics/security", h.securityMetrics)
	r.Post("/escalation/rules/reload", h.reloadRules)
	r.Get("/firewall/status", h.firewallStatus)
	r.Post("/firewall/evaluate", h.evaluateOrigin)
	r.Post("/firewall/block", h.blockOrigin)
	r.Post("/firewall/unblock", h.unblockOrigin)
	r.Put("/firewall/thresholds", h.setThresholds)
}

type rateLimitRequest struct {
	Namespace  string `json:"namespace"`
	Identifier string `json:"identifier"`
	Marker     string `json:"marker,omitempty"`
}

func (h *SecurityHandler) checkRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := h.security.CheckRateLimit(r.Context(), req.Namespace, req.Identifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Standard rate-limit metadata headers.
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

	status := http.StatusOK
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, decision)
}

func (h *SecurityHandler) skipRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.security.MarkRequestSkipped(r.Context(), req.Namespace, req.Identifier, req.Marker); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (h *SecurityHandler) recordEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	eventID, err := h.security.RecordSecurityEvent(r.Context(), event)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"event_id": eventID})
}

func (h *SecurityHandler) processEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	result, err := h.security.ProcessSecurityEvent(r.Context(), event)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SecurityHandler) securityMetrics(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' timestamp")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' timestamp")
			return
		}
		to = parsed
	}

	result, err := h.security.GetSecurityMetrics(r.Context(), from, to)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SecurityHandler) reloadRules(w http.ResponseWriter, r *http.Request) {
	h.security.ReloadEscalationRules()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *SecurityHandler) firewallStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.security.GetFirewallStatus(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type firewallRequest struct {
	Origin  string `json:"origin"`
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

func (h *SecurityHandler) evaluateOrigin(w http.ResponseWriter, r *http.Request) {
	var req firewallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.security.EvaluateOrigin(r.Context(), req.Origin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *SecurityHandler) blockOrigin(w http.ResponseWriter, r *http.Request) {
	h.manualFirewall(w, r, false)
}

func (h *SecurityHandler) unblockOrigin(w http.ResponseWriter, r *http.Request) {
	h.manualFirewall(w, r, true)
}

func (h *SecurityHandler) manualFirewall(w http.ResponseWriter, r *http.Request, unblock bool) {
	var req firewallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		outcome models.FirewallOutcome
		err     error
	)
	if unblock {
		outcome, err = h.security.UnblockOrigin(r.Context(), req.Origin, req.Reason, req.ActorID)
	} else {
		outcome, err = h.security.BlockOrigin(r.Context(), req.Origin, req.Reason, req.ActorID)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if outcome.Action == models.ActionBlockFailed || outcome.Action == models.ActionProcessingError {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, outcome)
}

func (h *SecurityHandler) setThresholds(w http.ResponseWriter, r *http.Request) {
	var t models.FirewallThresholds
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.security.SetFirewallThresholds(r.Context(), t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *SecurityHandler) decodeEvent(w http.ResponseWriter, r *http.Request) (*models.SecurityEvent, bool) {
	var payload struct {
		Type     string                 `json:"type"`
		Severity string                 `json:"severity"`
		ActorID  string                 `json:"actor_id"`
		Origin   string                 `json:"origin"`
		Threats  []string               `json:"threats"`
		Details  map[string]interface{} `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	event := models.NewSecurityEvent(
		models.EventType(payload.Type),
		models.Severity(payload.Severity),
		payload.Origin,
	)
	event.ActorID = payload.ActorID
	event.Threats = payload.Threats
	event.Details = payload.Details

	// Untagged events are scanned for known attack signatures. Detection
	// runs on the raw detail values, before sanitization escapes them.
	if len(event.Threats) == 0 {
		event.Threats = util.DetectThreats(detailsPayload(event.Details))
	}
	sanitizeDetails(event.Details)

	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return event, true
}

// detailsPayload flattens string detail values, in key order, into one
// scannable payload.
func detailsPayload(details map[string]interface{}) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		if _, ok := details[k].(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, details[k].(string))
	}
	return strings.Join(values, "\n")
}

// sanitizeDetails escapes string detail values in place before storage.
func sanitizeDetails(details map[string]interface{}) {
	for k, v := range details {
		if s, ok := v.(string); ok {
			details[k] = util.SanitizeInput(s)
		}
	}
}

func (h *SecurityHandler) writeServiceError(w http.ResponseWriter, err error) {
	util.Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
