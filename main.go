package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	apihttp "pumpwatch/internal/api/http"
	"pumpwatch/internal/audit"
	"pumpwatch/internal/auth"
	devicepostgres "pumpwatch/internal/devices/infrastructure/postgres"
	devicehttp "pumpwatch/internal/devices/interfaces/http"
	incidentapp "pumpwatch/internal/incidents/application"
	incidents "pumpwatch/internal/incidents/domain"
	incidentpostgres "pumpwatch/internal/incidents/infrastructure/postgres"
	incidenthttp "pumpwatch/internal/incidents/interfaces/http"
	incidentnotify "pumpwatch/internal/incidents/notify"
	"pumpwatch/internal/monitor"
	"pumpwatch/internal/observability/metrics"
	"pumpwatch/internal/reports"
	"pumpwatch/internal/retention"
	telemetrypostgres "pumpwatch/internal/telemetry/infrastructure/postgres"
	telemetryhttp "pumpwatch/internal/telemetry/interfaces/http"

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

	incidentRepo := incidentpostgres.NewIncidentRepository(db)
	deviceRepo := devicepostgres.NewDeviceRepository(db)
	readingRepo := telemetrypostgres.NewReadingRepository(db)

	broker := incidenthttp.NewSSEBroker()
	notifiers := []incidentapp.Notifier{broker}
	var webhookNotifier *incidentnotify.Notifier
	if cfg.WebhookURL != "" {
		channel, err := incidentnotify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		template, err := incidentnotify.NewTemplate(cfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("notify template error: %v", err)
		}
		webhookNotifier, err = incidentnotify.NewNotifier(
			incidentRepo,
			channel,
			template,
			incidentnotify.WithDeviceReader(deviceRepo),
			incidentnotify.WithEscalation(cfg.EscalationAfter),
			incidentnotify.WithCooldown(cfg.NotifyCooldown),
			incidentnotify.WithDedupeWindow(cfg.NotifyDedupeWindow),
			incidentnotify.WithRequestTimeout(cfg.NotifyTimeout),
			incidentnotify.WithDetailURLResolver(buildDetailURLResolver(cfg.PublicBaseURL)),
		)
		if err != nil {
			logger.Fatalf("notifier error: %v", err)
		}
		defer webhookNotifier.Close()
		notifiers = append(notifiers, webhookNotifier)
	}

	tracker, err := incidentapp.NewTracker(incidentRepo, logger,
		incidentapp.WithNotifier(incidentnotify.NewMultiNotifier(notifiers...)))
	if err != nil {
		logger.Fatalf("tracker error: %v", err)
	}

	monitorCfg, err := monitor.LoadConfig()
	if err != nil {
		logger.Fatalf("monitor config error: %v", err)
	}
	checker, err := monitor.NewChecker(monitorCfg, tracker, deviceRepo, readingRepo, logger)
	if err != nil {
		logger.Fatalf("monitor error: %v", err)
	}
	go checker.Start(context.Background())

	janitor, err := retention.NewJanitor(incidentRepo, cfg.RetentionMaxAge, logger,
		retention.WithInterval(cfg.RetentionInterval))
	if err != nil {
		logger.Fatalf("retention error: %v", err)
	}
	go janitor.Start(context.Background())

	eventIngest, err := incidenthttp.NewIngestHandler(tracker, logger)
	if err != nil {
		logger.Fatalf("event ingest handler error: %v", err)
	}
	telemetryIngest, err := telemetryhttp.NewIngestHandler(readingRepo, deviceRepo, logger)
	if err != nil {
		logger.Fatalf("telemetry ingest handler error: %v", err)
	}
	incidentHandler, err := incidenthttp.NewHandler(tracker, auditRepo, logger)
	if err != nil {
		logger.Fatalf("incident handler error: %v", err)
	}
	deviceHandler, err := devicehttp.NewHandler(deviceRepo, logger)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}
	exportHandler, err := reports.NewExportHandler(tracker, logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	summaryHandler, err := apihttp.NewSummaryHandler(tracker, deviceRepo, readingRepo, logger)
	if err != nil {
		logger.Fatalf("summary handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware(deviceRepo)

	mux := http.NewServeMux()
	mux.Handle("/ingest/events", ingestAuth.Wrap(eventIngest))
	mux.Handle("/ingest/telemetry", ingestAuth.Wrap(telemetryIngest))
	mux.Handle("/api/v1/incidents", incidentHandler)
	mux.Handle("/api/v1/incidents/stream", incidenthttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/incidents/export.xlsx", exportHandler)
	mux.Handle("/api/v1/incidents/export.pdf", exportHandler)
	mux.Handle("/api/v1/incidents/", incidentHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/summary", summaryHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL        string
	HTTPAddr           string
	PublicBaseURL      string
	WebhookURL         string
	NotifyTemplate     string
	EscalationAfter    time.Duration
	NotifyCooldown     time.Duration
	NotifyDedupeWindow time.Duration
	NotifyTimeout      time.Duration
	RetentionMaxAge    time.Duration
	RetentionInterval  time.Duration
	JWTSecret          string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		PublicBaseURL:      getenvDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
		WebhookURL:         getenvDefault("INCIDENT_WEBHOOK_URL", ""),
		NotifyTemplate:     getenvDefault("INCIDENT_NOTIFY_TEMPLATE", ""),
		EscalationAfter:    getenvDuration("INCIDENT_ESCALATION_AFTER", 0),
		NotifyCooldown:     getenvDuration("INCIDENT_NOTIFY_COOLDOWN", 0),
		NotifyDedupeWindow: getenvDuration("INCIDENT_NOTIFY_DEDUP_WINDOW", 0),
		NotifyTimeout:      getenvDuration("INCIDENT_NOTIFY_TIMEOUT", 5*time.Second),
		RetentionMaxAge:    getenvDuration("INCIDENT_RETENTION_MAX_AGE", 90*24*time.Hour),
		RetentionInterval:  getenvDuration("INCIDENT_RETENTION_INTERVAL", time.Hour),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
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

func buildDetailURLResolver(baseURL string) incidentnotify.DetailURLResolver {
	if baseURL == "" {
		return nil
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return func(_ context.Context, incident incidents.Incident) string {
		if incident.ID == "" {
			return ""
		}
		return baseURL + "/api/v1/incidents/" + incident.ID
	}
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

// Flush keeps SSE streaming working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
