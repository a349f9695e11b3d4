package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/zatekoja/nearbyplaces/internal/api/handlers"
	"github.com/zatekoja/nearbyplaces/internal/api/middleware"
	"github.com/zatekoja/nearbyplaces/internal/infrastructure/observability"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	webhookHandler *handlers.WhatsAppWebhookHandler
	checks         map[string]HealthChecker
	metrics        *observability.Metrics
}

// NewRouter creates a new router. checks may be empty.
func NewRouter(webhookHandler *handlers.WhatsAppWebhookHandler, checks map[string]HealthChecker, metrics *observability.Metrics) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		webhookHandler: webhookHandler,
		checks:         checks,
		metrics:        metrics,
	}
}

// SetupRoutes registers the routes and wraps them in middleware
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", r.health)

	r.mux.HandleFunc("GET /webhooks/whatsapp", r.webhookHandler.Verify)
	r.mux.HandleFunc("POST /webhooks/whatsapp", r.webhookHandler.HandleWebhook)

	// Last wrapper runs first.
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)

	return handler
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	for name, check := range r.checks {
		if err := check.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
