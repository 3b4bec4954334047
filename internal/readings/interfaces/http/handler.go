package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sensorgrid-cloud/internal/auth"
	"sensorgrid-cloud/internal/monitoring"
	"sensorgrid-cloud/internal/observability/metrics"
	sensors "sensorgrid-cloud/internal/sensors/domain"
)

// Ingester runs one reading through the monitoring pipeline.
type Ingester interface {
	Ingest(ctx context.Context, ownerID, sensorID string, value float64, receivedAt time.Time) (*monitoring.Result, error)
}

// IngestHandler accepts sensor readings over HTTP. The body is either one
// reading object or an array of them; malformed or unknown entries are
// dropped with a logged warning, never failing the batch.
type IngestHandler struct {
	pipeline      Ingester
	logger        *log.Logger
	defaultTenant string
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(pipeline Ingester, defaultTenant string, logger *log.Logger) (*IngestHandler, error) {
	if pipeline == nil {
		return nil, errors.New("readings ingest: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{pipeline: pipeline, logger: logger, defaultTenant: defaultTenant}, nil
}

// ServeHTTP handles POST /ingest/readings.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("readings ingest: read body error: %v", err)
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	entries, err := parseIngestBody(body)
	if err != nil {
		h.logger.Printf("readings ingest: decode error: %v", err)
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	tenantID := h.tenantFor(r)
	if tenantID == "" {
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	accepted := 0
	dropped := 0
	for _, raw := range entries {
		var entry ingestReading
		if err := json.Unmarshal(raw, &entry); err != nil {
			dropped++
			h.logger.Printf("readings ingest: dropped malformed reading: %v", err)
			metrics.IncIngestError("invalid_payload")
			continue
		}
		if err := h.ingestOne(r.Context(), tenantID, entry); err != nil {
			dropped++
			h.logger.Printf("readings ingest: dropped reading for %q: %v", entry.ID, err)
			metrics.IncIngestError(dropReason(err))
			continue
		}
		accepted++
	}

	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"dropped":  dropped,
	})
}

func (h *IngestHandler) ingestOne(ctx context.Context, tenantID string, entry ingestReading) error {
	if entry.ID == "" {
		return errors.New("missing sensor id")
	}
	value, err := entry.Value.float()
	if err != nil {
		return err
	}
	receivedAt, err := parseTimestamp(entry.TS)
	if err != nil {
		return err
	}
	_, err = h.pipeline.Ingest(ctx, tenantID, entry.ID, value, receivedAt)
	return err
}

func (h *IngestHandler) tenantFor(r *http.Request) string {
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" {
		return tenantID
	}
	if tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); tenantID != "" {
		return tenantID
	}
	return h.defaultTenant
}

type ingestReading struct {
	ID    string    `json:"id"`
	Value flexValue `json:"value"`
	TS    int64     `json:"ts"`
}

func parseIngestBody(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("invalid json")
	}
	return []json.RawMessage{trimmed}, nil
}

// flexValue accepts both JSON numbers and numeric strings on the wire.
type flexValue struct {
	value float64
	set   bool
}

func (v *flexValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing value")
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return errors.New("value is not numeric")
		}
		v.value = parsed
		v.set = true
		return nil
	}
	var parsed float64
	if err := json.Unmarshal(data, &parsed); err != nil {
		return errors.New("value is not numeric")
	}
	v.value = parsed
	v.set = true
	return nil
}

func (v flexValue) float() (float64, error) {
	if !v.set {
		return 0, errors.New("missing value")
	}
	return v.value, nil
}

// parseTimestamp accepts epoch seconds or milliseconds; zero means "now".
func parseTimestamp(value int64) (time.Time, error) {
	if value == 0 {
		return time.Time{}, nil
	}
	if value < 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, sensors.ErrUnknownSensor):
		return "unknown_sensor"
	case errors.Is(err, monitoring.ErrInvalidValue):
		return "invalid_value"
	default:
		return "invalid_payload"
	}
}
