package integration_test

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alertapp "sensorgrid-cloud/internal/alerts/application"
	alertrepo "sensorgrid-cloud/internal/alerts/infrastructure/postgres"
	apihttp "sensorgrid-cloud/internal/api/http"
	"sensorgrid-cloud/internal/monitoring"
	readings "sensorgrid-cloud/internal/readings/domain"
	readingrepo "sensorgrid-cloud/internal/readings/infrastructure/postgres"
	readinghttp "sensorgrid-cloud/internal/readings/interfaces/http"
	sensors "sensorgrid-cloud/internal/sensors/domain"
	sensorrepo "sensorgrid-cloud/internal/sensors/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestIngestToHistoryFlow(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	ctx := context.Background()
	tenantID := "tenant-flow"
	sensorID := "sensor-flow-001"

	_, _ = db.ExecContext(ctx, "DELETE FROM readings WHERE owner_id = $1", tenantID)
	_, _ = db.ExecContext(ctx, "DELETE FROM alerts WHERE owner_id = $1", tenantID)
	_, _ = db.ExecContext(ctx, "DELETE FROM sensors WHERE owner_id = $1", tenantID)

	sensorStore := sensorrepo.NewSensorRepository(db)
	if err := sensorStore.Save(ctx, &sensors.Sensor{
		ID:        sensorID,
		OwnerID:   tenantID,
		Name:      "inlet pressure",
		Type:      sensors.TypePressure,
		Unit:      "bar",
		Threshold: 12,
		Enabled:   true,
	}); err != nil {
		t.Fatalf("save sensor: %v", err)
	}

	readingStore := readingrepo.NewReadingRepository(db)
	alertService, err := alertapp.NewService(alertrepo.NewAlertRepository(db), tenantID)
	if err != nil {
		t.Fatalf("alert service: %v", err)
	}

	logger := log.New(testWriter{t}, "", 0)
	cfg, err := monitoring.LoadConfig()
	if err != nil {
		t.Fatalf("monitoring config: %v", err)
	}
	pipeline, err := monitoring.NewPipeline(sensorStore, alertService, cfg, logger,
		monitoring.WithStore(readingStore))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	ingest, err := readinghttp.NewIngestHandler(pipeline, tenantID, logger)
	if err != nil {
		t.Fatalf("ingest handler: %v", err)
	}
	server := httptest.NewServer(ingest)
	defer server.Close()

	body := `[{"id":"sensor-flow-001","value":10.2},{"id":"sensor-flow-001","value":"10.4"},{"id":"sensor-flow-001","value":13.1}]`
	resp, err := http.Post(server.URL+"/ingest/readings", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post readings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Accepted int `json:"accepted"`
		Dropped  int `json:"dropped"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Accepted != 3 || result.Dropped != 0 {
		t.Fatalf("expected 3 accepted, got %+v", result)
	}

	pipeline.Drain()

	history := httptest.NewServer(apihttp.NewHistoryHandler(readingStore, tenantID, nil))
	defer history.Close()

	from := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	to := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	historyResp, err := http.Get(history.URL + "/api/v1/readings/history?sensor_id=" + sensorID + "&from=" + from + "&to=" + to)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer historyResp.Body.Close()
	if historyResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", historyResp.StatusCode)
	}
	var rows []readings.Reading
	if err := json.NewDecoder(historyResp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(rows))
	}
	critical := 0
	for _, row := range rows {
		if row.Status == readings.StatusCritical {
			critical++
		}
	}
	if critical != 1 {
		t.Fatalf("expected exactly one critical reading, got %d", critical)
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
