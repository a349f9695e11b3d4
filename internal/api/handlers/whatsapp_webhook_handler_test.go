package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/nearbyplaces/internal/adapters/cache"
	"github.com/zatekoja/nearbyplaces/internal/application/services"
	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/pkg/config"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
)

type mockDispatcher struct {
	mu          sync.Mutex
	events      []entities.Event
	users       []string
	returnError error
}

func (m *mockDispatcher) Handle(ctx context.Context, userID string, event entities.Event) (*services.DispatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.users = append(m.users, userID)
	if m.returnError != nil {
		return nil, m.returnError
	}
	return &services.DispatchResult{Outcome: services.OutcomeAwaitRadius}, nil
}

type mockReplies struct {
	mu       sync.Mutex
	rendered []*services.DispatchResult
	errs     []error
	welcomed []string
}

func (m *mockReplies) Render(ctx context.Context, to string, result *services.DispatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rendered = append(m.rendered, result)
	return nil
}

func (m *mockReplies) RenderError(ctx context.Context, to string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return nil
}

func (m *mockReplies) Welcome(ctx context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomed = append(m.welcomed, to)
	return nil
}

const locationDelivery = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [{
          "from": "6591234567",
          "id": "wamid.loc1",
          "timestamp": "1700000000",
          "type": "location",
          "location": {"latitude": 1.3521, "longitude": 103.8198}
        }]
      }
    }]
  }]
}`

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestHandler(cfg config.WhatsAppConfig) (*WhatsAppWebhookHandler, *mockDispatcher, *mockReplies) {
	dispatcher := &mockDispatcher{}
	replies := &mockReplies{}
	h := NewWhatsAppWebhookHandler(dispatcher, replies, cache.NewMemoryAdapter(64), cfg, time.Second, zerolog.Nop())
	return h, dispatcher, replies
}

func TestWhatsAppWebhookHandler_HandleWebhook(t *testing.T) {
	tests := []struct {
		name               string
		appSecret          string
		signature          func(body []byte) string
		body               string
		expectedStatusCode int
		expectedEvents     int
	}{
		{
			name:               "Unsigned delivery without secret",
			body:               locationDelivery,
			expectedStatusCode: http.StatusOK,
			expectedEvents:     1,
		},
		{
			name:               "Valid signature",
			appSecret:          "app-secret",
			signature:          func(body []byte) string { return sign("app-secret", body) },
			body:               locationDelivery,
			expectedStatusCode: http.StatusOK,
			expectedEvents:     1,
		},
		{
			name:               "Wrong signature",
			appSecret:          "app-secret",
			signature:          func(body []byte) string { return sign("other", body) },
			body:               locationDelivery,
			expectedStatusCode: http.StatusUnauthorized,
		},
		{
			name:               "Missing signature",
			appSecret:          "app-secret",
			body:               locationDelivery,
			expectedStatusCode: http.StatusUnauthorized,
		},
		{
			name:               "Invalid JSON",
			body:               `{"entry": [`,
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:               "Status callback without messages",
			body:               `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"x"}]}}]}]}`,
			expectedStatusCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, dispatcher, replies := newTestHandler(config.WhatsAppConfig{AppSecret: tt.appSecret})

			body := []byte(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
			if tt.signature != nil {
				req.Header.Set("X-Hub-Signature-256", tt.signature(body))
			}
			w := httptest.NewRecorder()

			h.HandleWebhook(w, req)
			h.Wait()

			assert.Equal(t, tt.expectedStatusCode, w.Code)
			assert.Len(t, dispatcher.events, tt.expectedEvents)
			assert.Len(t, replies.rendered, tt.expectedEvents)
			if tt.expectedEvents > 0 {
				assert.Equal(t, "6591234567", dispatcher.users[0])
				assert.Equal(t, entities.LocationReceived{Origin: entities.Location{Latitude: 1.3521, Longitude: 103.8198}}, dispatcher.events[0])
			}
		})
	}
}

func TestWhatsAppWebhookHandler_DuplicateDeliveryDispatchedOnce(t *testing.T) {
	h, dispatcher, _ := newTestHandler(config.WhatsAppConfig{})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader([]byte(locationDelivery)))
		w := httptest.NewRecorder()
		h.HandleWebhook(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
	h.Wait()

	assert.Len(t, dispatcher.events, 1)
}

func TestWhatsAppWebhookHandler_ErrorsAreRendered(t *testing.T) {
	h, dispatcher, replies := newTestHandler(config.WhatsAppConfig{})
	dispatcher.returnError = apperrors.NewValidationError(apperrors.CodeMissingOrigin, "no origin")

	body := `{"entry":[{"changes":[{"field":"messages","value":{"messages":[
		{"from":"u1","id":"m1","type":"text","text":{"body":"pizza"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader([]byte(body)))
	h.HandleWebhook(httptest.NewRecorder(), req)
	h.Wait()

	require.Len(t, replies.errs, 1)
	assert.True(t, errors.Is(replies.errs[0], dispatcher.returnError))
	assert.Empty(t, replies.rendered)
}

func TestWhatsAppWebhookHandler_StartGreets(t *testing.T) {
	h, dispatcher, replies := newTestHandler(config.WhatsAppConfig{})

	body := `{"entry":[{"changes":[{"field":"messages","value":{"messages":[
		{"from":"u1","id":"m1","type":"text","text":{"body":"/start"}},
		{"from":"u1","id":"m2","type":"text","text":{"body":"1500m"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader([]byte(body)))
	h.HandleWebhook(httptest.NewRecorder(), req)
	h.Wait()

	assert.Equal(t, []entities.Event{entities.SessionReset{}, entities.RadiusChosen{Meters: 1500}}, dispatcher.events)
	assert.Equal(t, []string{"u1"}, replies.welcomed)
	assert.Len(t, replies.rendered, 1)
}

func TestWhatsAppWebhookHandler_Verify(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		expectedCode int
		expectedBody string
	}{
		{
			name:         "Matching token echoes challenge",
			query:        "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444",
			expectedCode: http.StatusOK,
			expectedBody: "1158201444",
		},
		{
			name:         "Wrong token",
			query:        "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1",
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "Wrong mode",
			query:        "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1",
			expectedCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(config.WhatsAppConfig{VerifyToken: "verify-me"})

			req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?"+tt.query, nil)
			w := httptest.NewRecorder()
			h.Verify(w, req)

			assert.Equal(t, tt.expectedCode, w.Code)
			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestToInbound(t *testing.T) {
	text := func(body string) WhatsAppMessage {
		msg := WhatsAppMessage{From: "u1", ID: "m", Type: "text"}
		msg.Text = &struct {
			Body string `json:"body"`
		}{Body: body}
		return msg
	}
	interactive := func(kind, id string) WhatsAppMessage {
		msg := WhatsAppMessage{From: "u1", ID: "m", Type: "interactive"}
		msg.Interactive = &struct {
			Type        string       `json:"type"`
			ButtonReply *replyChoice `json:"button_reply,omitempty"`
			ListReply   *replyChoice `json:"list_reply,omitempty"`
		}{Type: kind}
		if kind == "button_reply" {
			msg.Interactive.ButtonReply = &replyChoice{ID: id}
		} else {
			msg.Interactive.ListReply = &replyChoice{ID: id}
		}
		return msg
	}

	tests := []struct {
		name   string
		msg    WhatsAppMessage
		want   entities.Event
		greet  bool
		wantOK bool
	}{
		{name: "radius button", msg: interactive("button_reply", "radius:1000"), want: entities.RadiusChosen{Meters: 1000}, wantOK: true},
		{name: "category list", msg: interactive("list_reply", "category:pharmacy"), want: entities.CategoryChosen{Tag: "pharmacy"}, wantOK: true},
		{name: "custom category", msg: interactive("list_reply", "category:custom"), want: entities.CategoryChosen{Tag: "custom"}, wantOK: true},
		{name: "more button", msg: interactive("button_reply", "more"), want: entities.MoreRequested{}, wantOK: true},
		{name: "reset button", msg: interactive("button_reply", "reset"), want: entities.SessionReset{}, wantOK: true},
		{name: "malformed radius id", msg: interactive("button_reply", "radius:abc")},
		{name: "unknown id", msg: interactive("button_reply", "whatever")},
		{name: "start command", msg: text("/start"), want: entities.SessionReset{}, greet: true, wantOK: true},
		{name: "clear command", msg: text("/clear"), want: entities.SessionReset{}, wantOK: true},
		{name: "reset text", msg: text(" Reset "), want: entities.SessionReset{}, wantOK: true},
		{name: "plain radius", msg: text("1500"), want: entities.RadiusChosen{Meters: 1500}, wantOK: true},
		{name: "radius with unit", msg: text("750 m"), want: entities.RadiusChosen{Meters: 750}, wantOK: true},
		{name: "free text", msg: text("vegan pizza"), want: entities.TextQuery{Text: "vegan pizza"}, wantOK: true},
		{name: "empty text reaches the dispatcher", msg: text("   "), want: entities.TextQuery{Text: ""}, wantOK: true},
		{name: "image ignored", msg: WhatsAppMessage{From: "u1", Type: "image"}},
		{name: "missing sender", msg: WhatsAppMessage{Type: "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := toInbound(tt.msg)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.want, in.event)
			assert.Equal(t, tt.greet, in.greet)
			assert.Equal(t, "u1", in.from)
		})
	}
}

// gatedDispatcher holds its first call until release is closed.
type gatedDispatcher struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDispatcher) Handle(ctx context.Context, userID string, event entities.Event) (*services.DispatchResult, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	g.entered <- struct{}{}
	if first {
		<-g.release
		return &services.DispatchResult{Outcome: services.OutcomeResults}, nil
	}
	return &services.DispatchResult{Outcome: services.OutcomeDuplicate}, nil
}

func textDelivery(id, body string) string {
	return `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{` +
		`"messaging_product":"whatsapp","messages":[{"from":"6591234567","id":"` + id +
		`","type":"text","text":{"body":"` + body + `"}}]}}]}]}`
}

func TestWhatsAppWebhookHandler_DeliveriesOfOneUserOverlap(t *testing.T) {
	dispatcher := &gatedDispatcher{entered: make(chan struct{}, 2), release: make(chan struct{})}
	replies := &mockReplies{}
	h := NewWhatsAppWebhookHandler(dispatcher, replies, cache.NewMemoryAdapter(64), config.WhatsAppConfig{}, time.Second, zerolog.Nop())

	post := func(body string) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		h.HandleWebhook(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	post(textDelivery("wamid.more1", "more"))
	<-dispatcher.entered

	// A second press must reach the dispatcher while the first fetch is running,
	// so the pagination guard can report it as a duplicate.
	post(textDelivery("wamid.more2", "more"))
	select {
	case <-dispatcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second delivery waited behind the first")
	}

	close(dispatcher.release)
	h.Wait()

	replies.mu.Lock()
	defer replies.mu.Unlock()
	require.Len(t, replies.rendered, 2)
	assert.Equal(t, services.OutcomeDuplicate, replies.rendered[0].Outcome)
	assert.Equal(t, services.OutcomeResults, replies.rendered[1].Outcome)
}
