package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	"github.com/zatekoja/nearbyplaces/pkg/config"
	"github.com/zatekoja/nearbyplaces/pkg/retry"
)

// Platform limits of interactive messages.
const (
	MaxReplyButtons    = 3
	MaxListRows        = 10
	maxButtonTitle     = 20
	maxRowTitle        = 24
	maxRowDescription  = 72
	maxListButtonLabel = 20
	maxBodyText        = 1024
	maxCaption         = 1024
)

const defaultWhatsAppBaseURL = "https://graph.facebook.com/v18.0"

// WhatsAppCloudSender sends messages via WhatsApp Cloud API
type WhatsAppCloudSender struct {
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	baseURL       string
	retry         retry.Config
}

// NewWhatsAppCloudSender creates a new WhatsApp sender
func NewWhatsAppCloudSender(cfg config.WhatsAppConfig, httpClient *http.Client) (*WhatsAppCloudSender, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultWhatsAppBaseURL
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxTotalTimeout = 20 * time.Second

	return &WhatsAppCloudSender{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient:    httpClient,
		baseURL:       baseURL,
		retry:         retryCfg,
	}, nil
}

// WhatsAppTextMessage represents a text message
type WhatsAppTextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

// WhatsAppInteractiveMessage represents a button, list or CTA URL message
type WhatsAppInteractiveMessage struct {
	MessagingProduct string              `json:"messaging_product"`
	RecipientType    string              `json:"recipient_type"`
	To               string              `json:"to"`
	Type             string              `json:"type"`
	Interactive      WhatsAppInteractive `json:"interactive"`
}

// WhatsAppInteractive is the interactive payload
type WhatsAppInteractive struct {
	Type   string              `json:"type"`
	Body   WhatsAppText        `json:"body"`
	Action WhatsAppInteractAct `json:"action"`
}

// WhatsAppText is a text object
type WhatsAppText struct {
	Text string `json:"text"`
}

// WhatsAppInteractAct holds the action of an interactive message
type WhatsAppInteractAct struct {
	Buttons    []WhatsAppReplyButton `json:"buttons,omitempty"`
	Button     string                `json:"button,omitempty"`
	Sections   []WhatsAppSection     `json:"sections,omitempty"`
	Name       string                `json:"name,omitempty"`
	Parameters *WhatsAppCTAParams    `json:"parameters,omitempty"`
}

// WhatsAppReplyButton is a quick-reply button
type WhatsAppReplyButton struct {
	Type  string `json:"type"`
	Reply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reply"`
}

// WhatsAppSection is a section of a list message
type WhatsAppSection struct {
	Title string        `json:"title,omitempty"`
	Rows  []WhatsAppRow `json:"rows"`
}

// WhatsAppRow is a list row
type WhatsAppRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// WhatsAppCTAParams are the parameters of a cta_url action
type WhatsAppCTAParams struct {
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
}

// WhatsAppImageMessage represents an image message referencing uploaded media
type WhatsAppImageMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Image            struct {
		ID      string `json:"id"`
		Caption string `json:"caption,omitempty"`
	} `json:"image"`
}

// WhatsAppResponse represents the API response
type WhatsAppResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type mediaResponse struct {
	ID string `json:"id"`
}

// SendText sends a text message
func (w *WhatsAppCloudSender) SendText(ctx context.Context, to, body string) (string, error) {
	message := WhatsAppTextMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
	}
	message.Text.PreviewURL = true
	message.Text.Body = body

	return w.sendMessage(ctx, message)
}

// SendButtons sends up to three quick-reply buttons
func (w *WhatsAppCloudSender) SendButtons(ctx context.Context, to, body string, buttons []providers.Button) (string, error) {
	if len(buttons) == 0 || len(buttons) > MaxReplyButtons {
		return "", fmt.Errorf("button messages need 1 to %d buttons, got %d", MaxReplyButtons, len(buttons))
	}

	action := WhatsAppInteractAct{}
	for _, b := range buttons {
		var rb WhatsAppReplyButton
		rb.Type = "reply"
		rb.Reply.ID = b.ID
		rb.Reply.Title = clip(b.Title, maxButtonTitle)
		action.Buttons = append(action.Buttons, rb)
	}

	return w.sendMessage(ctx, w.interactive(to, "button", body, action))
}

// SendList sends a single-section list menu
func (w *WhatsAppCloudSender) SendList(ctx context.Context, to, body, buttonLabel string, rows []providers.ListRow) (string, error) {
	if len(rows) == 0 || len(rows) > MaxListRows {
		return "", fmt.Errorf("list messages need 1 to %d rows, got %d", MaxListRows, len(rows))
	}

	section := WhatsAppSection{}
	for _, r := range rows {
		section.Rows = append(section.Rows, WhatsAppRow{
			ID:          r.ID,
			Title:       clip(r.Title, maxRowTitle),
			Description: clip(r.Description, maxRowDescription),
		})
	}
	action := WhatsAppInteractAct{
		Button:   clip(buttonLabel, maxListButtonLabel),
		Sections: []WhatsAppSection{section},
	}

	return w.sendMessage(ctx, w.interactive(to, "list", body, action))
}

// SendLink sends a call-to-action URL button
func (w *WhatsAppCloudSender) SendLink(ctx context.Context, to, body, label, url string) (string, error) {
	action := WhatsAppInteractAct{
		Name: "cta_url",
		Parameters: &WhatsAppCTAParams{
			DisplayText: clip(label, maxButtonTitle),
			URL:         url,
		},
	}
	return w.sendMessage(ctx, w.interactive(to, "cta_url", body, action))
}

// SendImage uploads the image as media and sends it
func (w *WhatsAppCloudSender) SendImage(ctx context.Context, to string, image []byte, contentType, caption string) (string, error) {
	mediaID, err := w.uploadMedia(ctx, image, contentType)
	if err != nil {
		return "", err
	}

	message := WhatsAppImageMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "image",
	}
	message.Image.ID = mediaID
	message.Image.Caption = clip(caption, maxCaption)

	return w.sendMessage(ctx, message)
}

func (w *WhatsAppCloudSender) interactive(to, kind, body string, action WhatsAppInteractAct) WhatsAppInteractiveMessage {
	return WhatsAppInteractiveMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: WhatsAppInteractive{
			Type:   kind,
			Body:   WhatsAppText{Text: clip(body, maxBodyText)},
			Action: action,
		},
	}
}

// sendMessage sends a message to WhatsApp Cloud API
func (w *WhatsAppCloudSender) sendMessage(ctx context.Context, message interface{}) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)

	jsonData, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	var whatsappResp WhatsAppResponse
	err = w.post(ctx, url, "application/json", jsonData, &whatsappResp)
	if err != nil {
		return "", err
	}

	if len(whatsappResp.Messages) > 0 {
		return whatsappResp.Messages[0].ID, nil
	}

	return "", fmt.Errorf("no message ID in response")
}

func (w *WhatsAppCloudSender) uploadMedia(ctx context.Context, image []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("messaging_product", "whatsapp")
	_ = form.WriteField("type", contentType)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="photo"`)
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to build media upload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("failed to build media upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to build media upload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/media", w.baseURL, w.phoneNumberID)
	var media mediaResponse
	if err := w.post(ctx, url, form.FormDataContentType(), buf.Bytes(), &media); err != nil {
		return "", err
	}
	if media.ID == "" {
		return "", fmt.Errorf("no media ID in response")
	}
	return media.ID, nil
}

// post sends payload and decodes a 2xx response into out. Server errors are
// retried; client errors are returned as is.
func (w *WhatsAppCloudSender) post(ctx context.Context, url, contentType string, payload []byte, out interface{}) error {
	return retry.Do(ctx, w.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+w.accessToken)
		req.Header.Set("Content-Type", contentType)

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := fmt.Errorf("WhatsApp API error (status %d): %s", resp.StatusCode, string(body))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return retry.Permanent(apiErr)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
		}
		return nil
	})
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
