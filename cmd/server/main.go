package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medichat/internal/agent"
	"medichat/internal/config"
	"medichat/internal/consultation"
	"medichat/internal/db"
	"medichat/internal/observability"
	"medichat/internal/platform/telegram"
	"medichat/internal/report"
	"medichat/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not up yet
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.OpenAIModel).
		Dur("capability_timeout", cfg.CapabilityTimeout).
		Bool("postgres", cfg.DatabaseURL != "").
		Bool("notifications", cfg.NotificationsEnabled()).
		Msg("MediChat starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Session store
	var repo consultation.Repository
	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Could not connect to database")
		}
		defer conn.Close()
		if err := db.Migrate(conn, logger); err != nil {
			logger.Fatal().Err(err).Msg("Migrations failed")
		}
		repo = consultation.NewPostgresRepository(conn)
		logger.Info().Msg("Connected to Database.")
	} else {
		repo = consultation.NewMemoryRepository()
		logger.Warn().Msg("DATABASE_URL not set, consultations are kept in memory")
	}
	if n, err := consultation.RestoreActiveCount(ctx, repo); err != nil {
		logger.Warn().Err(err).Msg("Could not count stored consultations")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("Resuming stored consultations")
	}

	// 2. Clients
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = cfg.RetryInitialBackoff
	aiClient := agent.NewClient(agent.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Retry:   retry,
	}, logger)

	var tgClient report.TelegramClient
	if cfg.NotificationsEnabled() {
		tgClient = telegram.NewClient(cfg.TelegramBotToken)
	} else {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set, doctor notifications disabled")
	}

	// 3. Services
	reportSvc := report.NewService(tgClient, cfg.DoctorChatID, cfg.ReportFontPath, logger)
	orchestrator := consultation.NewOrchestrator(aiClient, cfg.CapabilityTimeout, logger)
	consultationSvc := consultation.NewService(repo, orchestrator, aiClient, reportSvc, logger)
	consultationHandler := consultation.NewHandler(consultationSvc, logger)

	if cfg.SessionTTL > 0 {
		go consultation.RunSweeper(ctx, consultationSvc, cfg.SessionTTL, sweepInterval(cfg.SessionTTL), logger)
	}

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// CORS for frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
			if r.Method == "OPTIONS" {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", observability.HealthCheckHandler())
	r.Get("/readyz", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"store": repo.Ping,
		"llm":   aiClient.Ping,
	}))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.CapabilityTimeout),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := consultationSvc.Drain(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Pending doctor notifications dropped")
	}
	logger.Info().Msg("Server exited gracefully")
}

// writeTimeout leaves room for a turn that chains three capability calls,
// each with its own deadline. Without a capability deadline a turn is
// unbounded, so the response write is too.
func writeTimeout(capabilityTimeout time.Duration) time.Duration {
	if capabilityTimeout <= 0 {
		return 0
	}
	return 3*capabilityTimeout + 30*time.Second
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
