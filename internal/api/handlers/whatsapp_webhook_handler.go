package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/zatekoja/nearbyplaces/internal/application/services"
	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	"github.com/zatekoja/nearbyplaces/pkg/config"
)

const (
	signatureHeader   = "X-Hub-Signature-256"
	signaturePrefix   = "sha256="
	dedupKeyPrefix    = "whatsapp:msg:"
	dedupTTLSeconds   = 24 * 60 * 60
	maxWebhookBody    = 1 << 20
	defaultDispatchTO = 45 * time.Second
)

var radiusText = regexp.MustCompile(`^(\d{2,6})\s*(m|meters?|metres?)?$`)

// EventDispatcher applies inbound events to user sessions
type EventDispatcher interface {
	Handle(ctx context.Context, userID string, event entities.Event) (*services.DispatchResult, error)
}

// ReplyRenderer turns dispatch results into outbound messages
type ReplyRenderer interface {
	Render(ctx context.Context, to string, result *services.DispatchResult) error
	RenderError(ctx context.Context, to string, err error) error
	Welcome(ctx context.Context, to string) error
}

// WhatsAppWebhookHandler handles WhatsApp Cloud API webhooks
type WhatsAppWebhookHandler struct {
	dispatcher      EventDispatcher
	replies         ReplyRenderer
	dedup           providers.CacheProvider
	verifyToken     string
	appSecret       string
	dispatchTimeout time.Duration
	logger          zerolog.Logger

	wg sync.WaitGroup
}

// NewWhatsAppWebhookHandler creates a new webhook handler. dedup may be nil.
func NewWhatsAppWebhookHandler(dispatcher EventDispatcher, replies ReplyRenderer, dedup providers.CacheProvider, cfg config.WhatsAppConfig, dispatchTimeout time.Duration, logger zerolog.Logger) *WhatsAppWebhookHandler {
	if dispatchTimeout <= 0 {
		dispatchTimeout = defaultDispatchTO
	}
	return &WhatsAppWebhookHandler{
		dispatcher:      dispatcher,
		replies:         replies,
		dedup:           dedup,
		verifyToken:     cfg.VerifyToken,
		appSecret:       cfg.AppSecret,
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
	}
}

// WhatsAppWebhookPayload is the envelope of a webhook delivery
type WhatsAppWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string            `json:"messaging_product"`
				Messages         []WhatsAppMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsAppMessage is one inbound user message
type WhatsAppMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name,omitempty"`
		Address   string  `json:"address,omitempty"`
	} `json:"location,omitempty"`
	Interactive *struct {
		Type        string       `json:"type"`
		ButtonReply *replyChoice `json:"button_reply,omitempty"`
		ListReply   *replyChoice `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
}

type replyChoice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// inbound is a mapped message ready for dispatch.
type inbound struct {
	from  string
	id    string
	event entities.Event
	greet bool
}

// Verify handles GET /webhooks/whatsapp subscription challenges
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(h.verifyToken)) {
		respondWithError(w, http.StatusForbidden, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// HandleWebhook processes POST /webhooks/whatsapp deliveries. The delivery is
// acknowledged before any message is dispatched.
func (h *WhatsAppWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	if h.appSecret != "" {
		if !h.verifySignature(r) {
			respondWithError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var payload WhatsAppWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	var batch []inbound
	for _, msg := range payload.messages() {
		if !h.firstDelivery(ctx, msg.ID) {
			h.logger.Debug().Str("message_id", msg.ID).Msg("duplicate delivery skipped")
			continue
		}
		in, ok := toInbound(msg)
		if !ok {
			h.logger.Debug().Str("message_id", msg.ID).Str("type", msg.Type).Msg("unsupported message ignored")
			continue
		}
		batch = append(batch, in)
	}

	if len(batch) > 0 {
		h.dispatchAsync(trace.SpanContextFromContext(ctx), batch)
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "accepted",
		"accepted": len(batch),
	})
}

// Wait blocks until every dispatched delivery has been rendered.
func (h *WhatsAppWebhookHandler) Wait() {
	h.wg.Wait()
}

// dispatchAsync handles a delivery off the request goroutine. Messages of one
// delivery keep their order. Separate deliveries are not queued per user: a
// repeated "more" has to reach the dispatcher while the first fetch runs, and
// a new location has to supersede a search in flight.
func (h *WhatsAppWebhookHandler) dispatchAsync(parent trace.SpanContext, batch []inbound) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for _, in := range batch {
			h.dispatchOne(parent, in)
		}
	}()
}

func (h *WhatsAppWebhookHandler) dispatchOne(parent trace.SpanContext, in inbound) {
	ctx, cancel := context.WithTimeout(trace.ContextWithRemoteSpanContext(context.Background(), parent), h.dispatchTimeout)
	defer cancel()

	logger := h.logger.With().Str("user_id", in.from).Str("message_id", in.id).Logger()

	result, err := h.dispatcher.Handle(ctx, in.from, in.event)
	switch {
	case err != nil:
		err = h.replies.RenderError(ctx, in.from, err)
	case in.greet:
		err = h.replies.Welcome(ctx, in.from)
	default:
		err = h.replies.Render(ctx, in.from, result)
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to send reply")
	}
}

// firstDelivery records the message id and reports whether it is new. Cache
// failures let the message through.
func (h *WhatsAppWebhookHandler) firstDelivery(ctx context.Context, messageID string) bool {
	if h.dedup == nil || messageID == "" {
		return true
	}
	ok, err := h.dedup.SetNX(ctx, dedupKeyPrefix+messageID, []byte("1"), dedupTTLSeconds)
	if err != nil {
		h.logger.Warn().Err(err).Str("message_id", messageID).Msg("dedup check failed")
		return true
	}
	return ok
}

// verifySignature verifies the webhook signature
func (h *WhatsAppWebhookHandler) verifySignature(r *http.Request) bool {
	signature := r.Header.Get(signatureHeader)
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}

	// Reset body for later reading
	r.Body = io.NopCloser(bytes.NewReader(body))

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.TrimPrefix(signature, signaturePrefix)), []byte(expectedSignature))
}

func (p WhatsAppWebhookPayload) messages() []WhatsAppMessage {
	var out []WhatsAppMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			out = append(out, change.Value.Messages...)
		}
	}
	return out
}

// toInbound maps a platform message onto a session event.
func toInbound(msg WhatsAppMessage) (inbound, bool) {
	in := inbound{from: msg.From, id: msg.ID}
	if msg.From == "" {
		return in, false
	}

	switch msg.Type {
	case "location":
		if msg.Location == nil {
			return in, false
		}
		in.event = entities.LocationReceived{Origin: entities.Location{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
		}}
		return in, true

	case "interactive":
		if msg.Interactive == nil {
			return in, false
		}
		choice := msg.Interactive.ButtonReply
		if choice == nil {
			choice = msg.Interactive.ListReply
		}
		if choice == nil {
			return in, false
		}
		in.event = replyEvent(choice.ID)
		return in, in.event != nil

	case "button":
		if msg.Button == nil {
			return in, false
		}
		in.event = replyEvent(msg.Button.Payload)
		return in, in.event != nil

	case "text":
		if msg.Text == nil {
			return in, false
		}
		in.event, in.greet = textEvent(msg.Text.Body)
		return in, true
	}

	return in, false
}

// replyEvent decodes the id of a button or list reply.
func replyEvent(id string) entities.Event {
	switch {
	case id == services.ReplyIDMore:
		return entities.MoreRequested{}
	case id == services.ReplyIDReset:
		return entities.SessionReset{}
	case strings.HasPrefix(id, services.ReplyIDRadiusPrefix):
		meters, err := strconv.Atoi(strings.TrimPrefix(id, services.ReplyIDRadiusPrefix))
		if err != nil {
			return nil
		}
		return entities.RadiusChosen{Meters: meters}
	case strings.HasPrefix(id, services.ReplyIDCategoryPrefix):
		return entities.CategoryChosen{Tag: strings.TrimPrefix(id, services.ReplyIDCategoryPrefix)}
	}
	return nil
}

// textEvent maps typed text. The second result is true for the greeting command.
func textEvent(body string) (entities.Event, bool) {
	text := strings.TrimSpace(body)
	switch strings.ToLower(text) {
	case "/start", "start", "hi", "hello":
		return entities.SessionReset{}, true
	case "/clear", "reset", "stop", "back":
		return entities.SessionReset{}, false
	case "more":
		return entities.MoreRequested{}, false
	}

	if m := radiusText.FindStringSubmatch(strings.ToLower(text)); m != nil {
		meters, err := strconv.Atoi(m[1])
		if err == nil {
			return entities.RadiusChosen{Meters: meters}, false
		}
	}
	return entities.TextQuery{Text: text}, false
}
