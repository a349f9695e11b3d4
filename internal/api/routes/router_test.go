package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/zatekoja/nearbyplaces/internal/api/handlers"
	"github.com/zatekoja/nearbyplaces/internal/application/services"
	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/pkg/config"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type nopDispatcher struct{}

func (nopDispatcher) Handle(ctx context.Context, userID string, event entities.Event) (*services.DispatchResult, error) {
	return &services.DispatchResult{Outcome: services.OutcomeStale}, nil
}

type nopReplies struct{}

func (nopReplies) Render(ctx context.Context, to string, result *services.DispatchResult) error {
	return nil
}
func (nopReplies) RenderError(ctx context.Context, to string, err error) error { return nil }
func (nopReplies) Welcome(ctx context.Context, to string) error                { return nil }

func newTestRouter(checks map[string]HealthChecker) http.Handler {
	webhook := handlers.NewWhatsAppWebhookHandler(nopDispatcher{}, nopReplies{}, nil,
		config.WhatsAppConfig{VerifyToken: "tok"}, time.Second, zerolog.Nop())
	return NewRouter(webhook, checks, nil).SetupRoutes()
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name         string
		checks       map[string]HealthChecker
		expectedCode int
		expectedBody string
	}{
		{name: "No dependencies", expectedCode: http.StatusOK, expectedBody: "OK"},
		{
			name:         "Healthy cache",
			checks:       map[string]HealthChecker{"redis": pingFunc(func(context.Context) error { return nil })},
			expectedCode: http.StatusOK,
			expectedBody: "OK",
		},
		{
			name:         "Unreachable cache",
			checks:       map[string]HealthChecker{"redis": pingFunc(func(context.Context) error { return errors.New("down") })},
			expectedCode: http.StatusServiceUnavailable,
			expectedBody: "redis unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newTestRouter(tt.checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Equal(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestRouter_WebhookRoutes(t *testing.T) {
	router := newTestRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"entry":[]}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/webhooks/whatsapp", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
