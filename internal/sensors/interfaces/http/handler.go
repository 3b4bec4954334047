package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"sensorgrid-cloud/internal/audit"
	"sensorgrid-cloud/internal/auth"
	sensorapp "sensorgrid-cloud/internal/sensors/application"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

// ProvisioningHandler handles sensor provisioning requests. Admin only; the
// route policy enforces the role before requests reach this handler.
type ProvisioningHandler struct {
	service     *sensorapp.Service
	auditLogger audit.Logger
}

// NewProvisioningHandler constructs a handler.
func NewProvisioningHandler(service *sensorapp.Service, auditLogger audit.Logger) (*ProvisioningHandler, error) {
	if service == nil {
		return nil, errors.New("provisioning handler: nil service")
	}
	return &ProvisioningHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/provisioning/sensors and
// DELETE /api/v1/provisioning/sensors/{id}.
func (h *ProvisioningHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleProvision(w, r)
	case http.MethodDelete:
		h.handleDisable(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *ProvisioningHandler) handleProvision(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var input sensorapp.ProvisionInput
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	sensor, err := h.service.Provision(r.Context(), input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sensor)
	h.logAudit(r, "provision.sensor", sensor.OwnerID, sensor.ID, body)
}

func (h *ProvisioningHandler) handleDisable(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/provisioning/sensors/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := h.service.Disable(r.Context(), id); err != nil {
		if errors.Is(err, sensors.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, "disable.sensor", auth.TenantIDFromContext(r.Context()), id, nil)
}

func (h *ProvisioningHandler) logAudit(r *http.Request, action, tenantID, sensorID string, payload []byte) {
	if h.auditLogger == nil || tenantID == "" {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "sensor",
		ResourceID:   sensorID,
		SensorID:     sensorID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
