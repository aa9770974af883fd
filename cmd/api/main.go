package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/leadline-ai/lead-concierge/internal/botconfig"
	"github.com/leadline-ai/lead-concierge/internal/calendar"
	appconfig "github.com/leadline-ai/lead-concierge/internal/config"
	"github.com/leadline-ai/lead-concierge/internal/conversation"
	"github.com/leadline-ai/lead-concierge/internal/listing"
	"github.com/leadline-ai/lead-concierge/internal/llm"
	"github.com/leadline-ai/lead-concierge/internal/notify"
	"github.com/leadline-ai/lead-concierge/internal/observability/metrics"
	"github.com/leadline-ai/lead-concierge/internal/screening"
	"github.com/leadline-ai/lead-concierge/internal/viewing"
	"github.com/leadline-ai/lead-concierge/internal/webhook"
	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject environment variables.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lead-concierge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set, conversation state will not persist")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	gatewayMetrics := metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)
	conversationMetrics := metrics.NewConversationMetrics(prometheus.DefaultRegisterer)

	var primary, secondary llm.Client
	if cfg.OpenAIAPIKey != "" {
		primary = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
	if cfg.BridgeBaseURL != "" {
		bridge, err := llm.NewBridgeClient(llm.BridgeConfig{
			BaseURL: cfg.BridgeBaseURL,
			APIKey:  cfg.BridgeAPIKey,
			Model:   cfg.BridgeModel,
		})
		if err != nil {
			logger.Error("failed to configure bridge backend", "error", err)
			os.Exit(1)
		}
		if primary == nil {
			primary = bridge
		} else {
			secondary = bridge
		}
	}
	if primary == nil {
		logger.Error("no LLM backend configured, set OPENAI_API_KEY or BRIDGE_BASE_URL")
		os.Exit(1)
	}
	gateway := llm.NewGateway(primary, secondary, cfg.LLMAttemptTimeout, logger, gatewayMetrics)

	negotiator, err := viewing.NewNegotiator(viewing.Config{
		Timezone:     cfg.Timezone,
		DurationMins: cfg.ViewingDurationMins,
		Days:         cfg.ViewingDays,
		Hours:        cfg.ViewingHours,
		SlotCount:    cfg.ViewingSlotCount,
	})
	if err != nil {
		logger.Error("invalid viewing configuration", "error", err)
		os.Exit(1)
	}

	settingsStore := botconfig.NewStore(redisClient, logger)
	resolver := botconfig.NewResolver(settingsStore, logger)
	extractor := screening.NewExtractor(gateway, logger)
	detector := listing.NewDetector(cfg.ListingHosts)
	stateStore := conversation.NewPostgresStore(db)
	historyStore := conversation.NewHistoryStore(redisClient, cfg.HistoryLimit, cfg.HistoryTTL)

	orchestrator := conversation.NewOrchestrator(
		resolver,
		stateStore,
		extractor,
		gateway,
		negotiator,
		detector,
		logger,
		conversation.WithHistory(historyStore),
		conversation.WithCalendar(calendar.NewClient(cfg.CalendarBaseURL, cfg.CalendarAPIKey)),
		conversation.WithMetrics(conversationMetrics),
	)

	notifier := notify.NewService(
		notify.NewStubMessenger(logger),
		cfg.OperatorRecipients,
		logger,
	)

	messagesHandler := webhook.NewMessageHandler(orchestrator, notifier, logger)
	router := webhook.NewRouter(&webhook.RouterConfig{
		Logger:         logger,
		Messages:       messagesHandler,
		MetricsHandler: promhttp.Handler(),
		WebhookToken:   cfg.WebhookToken,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
