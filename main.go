package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "sensorgrid-cloud/internal/alerts/application"
	alertrepo "sensorgrid-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "sensorgrid-cloud/internal/alerts/interfaces/http"
	alertnotify "sensorgrid-cloud/internal/alerts/notify"
	apihttp "sensorgrid-cloud/internal/api/http"
	"sensorgrid-cloud/internal/audit"
	"sensorgrid-cloud/internal/auth"
	"sensorgrid-cloud/internal/eventing"
	"sensorgrid-cloud/internal/monitoring"
	"sensorgrid-cloud/internal/observability/metrics"
	readinghttp "sensorgrid-cloud/internal/readings/interfaces/http"
	readingrepo "sensorgrid-cloud/internal/readings/infrastructure/postgres"
	"sensorgrid-cloud/internal/realtime"
	sensorapp "sensorgrid-cloud/internal/sensors/application"
	sensorrepo "sensorgrid-cloud/internal/sensors/infrastructure/postgres"
	sensorhttp "sensorgrid-cloud/internal/sensors/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	sensorStore := sensorrepo.NewSensorRepository(db)
	readingStore := readingrepo.NewReadingRepository(db)
	alertStore := alertrepo.NewAlertRepository(db)

	monitorCfg, err := monitoring.LoadConfig()
	if err != nil {
		logger.Fatalf("monitoring config error: %v", err)
	}

	bus := eventing.NewInMemoryBus()
	hub := realtime.NewHub(logger)
	wsConsumer, err := realtime.NewConsumer(hub, nil)
	if err != nil {
		logger.Fatalf("realtime consumer error: %v", err)
	}

	alertBroker := alerthttp.NewSSEBroker()
	alertNotifiers := []alertapp.AlertNotifier{alertBroker, wsConsumer}
	if cfg.AlertWebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		tpl, err := alertnotify.NewTemplate(cfg.AlertNotifyTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		webhookNotifier, err := alertnotify.NewNotifier(alertStore, channel, tpl,
			alertnotify.WithEscalation(cfg.AlertEscalationAfter),
			alertnotify.WithCooldown(cfg.AlertNotifyCooldown),
			alertnotify.WithDedupeWindow(cfg.AlertNotifyDedupeWindow),
			alertnotify.WithRequestTimeout(cfg.AlertNotifyTimeout),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		defer webhookNotifier.Close()
		alertNotifiers = append(alertNotifiers, webhookNotifier)
	}

	alertService, err := alertapp.NewService(alertStore, cfg.TenantID,
		alertapp.WithNotifier(alertnotify.NewMultiNotifier(alertNotifiers...)))
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}

	pipeline, err := monitoring.NewPipeline(sensorStore, alertService, monitorCfg, logger,
		monitoring.WithStore(readingStore),
		monitoring.WithBus(bus),
	)
	if err != nil {
		logger.Fatalf("pipeline error: %v", err)
	}
	defer pipeline.Drain()

	wsConsumer.BindSnapshots(pipeline)
	wsConsumer.Register(bus)

	if monitorCfg.RebuildWindow {
		rebuildWindows(context.Background(), pipeline, sensorStore, readingStore, monitorCfg, cfg.TenantID, logger)
	}

	sensorService, err := sensorapp.NewService(sensorStore, cfg.TenantID)
	if err != nil {
		logger.Fatalf("sensor service error: %v", err)
	}
	provisionHandler, err := sensorhttp.NewProvisioningHandler(sensorService, auditRepo)
	if err != nil {
		logger.Fatalf("provisioning handler error: %v", err)
	}

	ingestHandler, err := readinghttp.NewIngestHandler(pipeline, cfg.TenantID, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	alertHandler, err := alerthttp.NewHandler(alertService, alerthttp.WithAuditLogger(auditRepo))
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/readings", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/sensors", apihttp.NewSensorsHandler(sensorStore, pipeline, cfg.TenantID))
	mux.Handle("/api/v1/readings/history", apihttp.NewHistoryHandler(readingStore, cfg.TenantID, auth.NewSensorChecker(db)))
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	mux.Handle("/api/v1/provisioning/sensors", provisionHandler)
	mux.Handle("/api/v1/provisioning/sensors/", provisionHandler)
	mux.Handle("/ws", realtime.NewHandler(hub))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil {
		logger.Printf("http server stopped: %v", err)
	}
}

// rebuildWindows reloads rolling statistics from recent readings so anomaly
// detection does not restart cold. Best-effort: failures log and move on.
func rebuildWindows(ctx context.Context, pipeline *monitoring.Pipeline, sensorStore *sensorrepo.SensorRepository, readingStore *readingrepo.ReadingRepository, monitorCfg monitoring.Config, tenantID string, logger *log.Logger) {
	list, err := sensorStore.ListByOwner(ctx, tenantID)
	if err != nil {
		logger.Printf("window rebuild: list sensors error: %v", err)
		return
	}
	for _, sensor := range list {
		tuning := monitorCfg.TuningForType(sensor.Type)
		values, err := readingStore.RecentValues(ctx, sensor.ID, sensor.OwnerID, tuning.WindowSize)
		if err != nil {
			logger.Printf("window rebuild: sensor %s error: %v", sensor.ID, err)
			continue
		}
		pipeline.SeedWindow(sensor.OwnerID, sensor.ID, sensor.Type, values)
	}
}

type config struct {
	DatabaseURL             string
	HTTPAddr                string
	TenantID                string
	AlertWebhookURL         string
	AlertNotifyTemplate     string
	AlertEscalationAfter    time.Duration
	AlertNotifyCooldown     time.Duration
	AlertNotifyDedupeWindow time.Duration
	AlertNotifyTimeout      time.Duration
	JWTSecret               string
	IngestSecret            string
	IngestSkewSeconds       int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:                getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:                getenvDefault("TENANT_ID", "tenant-demo"),
		AlertWebhookURL:         getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertNotifyTemplate:     getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		AlertEscalationAfter:    getenvDuration("ALERT_ESCALATION_AFTER", 0),
		AlertNotifyCooldown:     getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
		AlertNotifyDedupeWindow: getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0),
		AlertNotifyTimeout:      getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
		JWTSecret:               getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:            getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:       getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
