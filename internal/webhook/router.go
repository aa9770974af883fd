package webhook

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leadline-ai/lead-concierge/pkg/logging"
)

// RouterConfig holds the router's handlers and auth settings.
type RouterConfig struct {
	Logger         *logging.Logger
	Messages       *MessageHandler
	MetricsHandler http.Handler
	// WebhookToken protects the message endpoint. Empty disables the
	// check for local development.
	WebhookToken string
}

// NewRouter assembles the HTTP surface.
func NewRouter(cfg *RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	r.Get("/health", cfg.Messages.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(protected chi.Router) {
		protected.Use(requireToken(cfg.WebhookToken))
		protected.Post("/webhooks/messages", cfg.Messages.HandleMessages)
	})

	return r
}

// requestLogger emits a structured log line per completed request.
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// requireToken checks the bearer token on transport webhooks.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented == "" {
				presented = r.Header.Get("X-Webhook-Token")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid webhook token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
