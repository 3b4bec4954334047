package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sensorgrid-cloud/internal/auth"
	"sensorgrid-cloud/internal/monitoring"
	readings "sensorgrid-cloud/internal/readings/domain"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

const timeLayout = time.RFC3339

// SensorLister loads provisioned sensors for a tenant.
type SensorLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]sensors.Sensor, error)
}

// SnapshotProvider supplies live per-sensor state.
type SnapshotProvider interface {
	TenantSnapshot(ownerID string) []monitoring.Snapshot
}

// SensorsHandler serves the tenant sensor snapshot: provisioned configuration
// merged with live pipeline state, so reconnecting subscribers can re-fetch
// current state instead of replaying missed frames.
type SensorsHandler struct {
	sensors   SensorLister
	snapshots SnapshotProvider
	tenantID  string
}

// NewSensorsHandler constructs a SensorsHandler.
func NewSensorsHandler(lister SensorLister, snapshots SnapshotProvider, tenantID string) *SensorsHandler {
	return &SensorsHandler{sensors: lister, snapshots: snapshots, tenantID: tenantID}
}

type sensorView struct {
	sensors.Sensor
	Live *monitoring.Snapshot `json:"live,omitempty"`
}

// ServeHTTP handles GET /api/v1/sensors.
func (h *SensorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.sensors == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	tenantID := h.callerTenant(r)
	if tenantID == "" {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	list, err := h.sensors.ListByOwner(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "query sensors error", http.StatusInternalServerError)
		return
	}

	live := make(map[string]monitoring.Snapshot)
	if h.snapshots != nil {
		for _, snapshot := range h.snapshots.TenantSnapshot(tenantID) {
			live[snapshot.ID] = snapshot
		}
	}

	views := make([]sensorView, 0, len(list))
	for _, sensor := range list {
		view := sensorView{Sensor: sensor}
		if snapshot, ok := live[sensor.ID]; ok {
			view.Live = &snapshot
		}
		views = append(views, view)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *SensorsHandler) callerTenant(r *http.Request) string {
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" {
		return tenantID
	}
	return h.tenantID
}

// HistoryHandler serves reading history queries.
type HistoryHandler struct {
	query         readings.ReadingQuery
	sensorChecker auth.SensorTenantChecker
	tenantID      string
}

// NewHistoryHandler constructs a HistoryHandler. The sensor checker is
// optional; without it foreign sensors simply read as empty ranges.
func NewHistoryHandler(query readings.ReadingQuery, tenantID string, sensorChecker auth.SensorTenantChecker) *HistoryHandler {
	return &HistoryHandler{query: query, sensorChecker: sensorChecker, tenantID: tenantID}
}

// ServeHTTP handles GET /api/v1/readings/history.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		http.Error(w, "sensor_id is required", http.StatusBadRequest)
		return
	}

	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		tenantID = h.tenantID
	}
	if tenantID == "" {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	if h.sensorChecker != nil {
		if err := h.sensorChecker.EnsureSensorTenant(r.Context(), tenantID, sensorID); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				http.Error(w, "unknown sensor", http.StatusNotFound)
				return
			}
			http.Error(w, "sensor lookup error", http.StatusInternalServerError)
			return
		}
	}

	history, err := h.query.ListRange(r.Context(), sensorID, tenantID, from, to)
	if err != nil {
		http.Error(w, "query history error", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []readings.Reading{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(history)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
