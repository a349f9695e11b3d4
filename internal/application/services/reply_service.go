package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
)

// Interactive reply ids understood by the webhook handler.
const (
	ReplyIDMore           = "more"
	ReplyIDReset          = "reset"
	ReplyIDRadiusPrefix   = "radius:"
	ReplyIDCategoryPrefix = "category:"
)

// Platform limits of interactive messages.
const (
	maxReplyButtons = 3
	maxListRows     = 10
)

const (
	msgShareLocation = "Please share your *current location* (📎 → Location) to find nearby places."
	msgWelcome       = "Welcome! " + msgShareLocation
	msgResetDone     = "🗑️ Chat data cleared and conversation reset.\n\n" + msgShareLocation
	msgExpired       = "⌛ Your session expired. " + msgShareLocation
	msgAwaitText     = "✍️ Type what you are looking for, e.g. _vegan pizza_ or _24h pharmacy_."
	msgNoMore        = "No more results found 😞. Send a new location or pick another category."
	msgBusy          = "⏳ Still loading the next page, one moment."
)

// ReplyService renders dispatch outcomes and typed errors as messages
type ReplyService struct {
	messenger providers.Messenger
	places    providers.PlacesProvider
	logger    zerolog.Logger
}

// NewReplyService creates a new reply service
func NewReplyService(messenger providers.Messenger, places providers.PlacesProvider, logger zerolog.Logger) *ReplyService {
	return &ReplyService{
		messenger: messenger,
		places:    places,
		logger:    logger,
	}
}

// Render sends the messages for a handled event.
func (r *ReplyService) Render(ctx context.Context, to string, result *DispatchResult) error {
	switch result.Outcome {
	case OutcomeAwaitRadius:
		return r.promptRadius(ctx, to, radiusPrompt(result.Session))
	case OutcomeAwaitQuery:
		return r.promptCategory(ctx, to, fmt.Sprintf("Search radius set to %s. What are you looking for?", radiusOf(result.Session)))
	case OutcomeAwaitText:
		_, err := r.messenger.SendText(ctx, to, msgAwaitText)
		return err
	case OutcomeResults:
		return r.sendPage(ctx, to, result.Page)
	case OutcomeNoMoreResults:
		_, err := r.messenger.SendText(ctx, to, msgNoMore)
		return err
	case OutcomeDuplicate:
		_, err := r.messenger.SendText(ctx, to, msgBusy)
		return err
	case OutcomeStale:
		// A newer event already replied.
		return nil
	case OutcomeReset:
		_, err := r.messenger.SendText(ctx, to, msgResetDone)
		return err
	default:
		return fmt.Errorf("unknown outcome %q", result.Outcome)
	}
}

// RenderError tells the user why their event was rejected.
func (r *ReplyService) RenderError(ctx context.Context, to string, err error) error {
	if apperrors.IsType(err, apperrors.ErrorTypeSessionExpired) {
		_, sendErr := r.messenger.SendText(ctx, to, msgExpired)
		return sendErr
	}

	switch apperrors.CodeOf(err) {
	case apperrors.CodeMissingOrigin:
		_, sendErr := r.messenger.SendText(ctx, to, "❗ "+msgShareLocation)
		return sendErr
	case apperrors.CodeInvalidLocation:
		_, sendErr := r.messenger.SendText(ctx, to, "❗ That location could not be used. "+msgShareLocation)
		return sendErr
	case apperrors.CodeInvalidRadius:
		return r.promptRadius(ctx, to, fmt.Sprintf("❗ The radius must be between %s and %s. Pick one below or type a number of meters.",
			FormatDistance(entities.MinRadiusMeters), FormatDistance(entities.MaxRadiusMeters)))
	case apperrors.CodeEmptyQuery:
		_, sendErr := r.messenger.SendText(ctx, to, "❗ Please enter a non-empty search query.")
		return sendErr
	case apperrors.CodeUnknownCategory:
		return r.promptCategory(ctx, to, "❗ Unknown category. Please pick one from the list.")
	case apperrors.CodeMissingSearch:
		return r.promptCategory(ctx, to, "❗ There is no search to continue. Pick a category first.")
	case apperrors.CodeQuotaExceeded:
		_, sendErr := r.messenger.SendText(ctx, to, "❌ The places service is busy right now. Please try again in a few minutes.")
		return sendErr
	case apperrors.CodeTransient:
		_, sendErr := r.messenger.SendText(ctx, to, "❌ Could not reach the places service. Please try again.")
		return sendErr
	case apperrors.CodeAuth, apperrors.CodeInvalidRequest:
		_, sendErr := r.messenger.SendText(ctx, to, "❌ Search is unavailable right now. Please try again later.")
		return sendErr
	default:
		_, sendErr := r.messenger.SendText(ctx, to, "❌ Something went wrong. Send /start to begin again.")
		return sendErr
	}
}

// Welcome sends the greeting shown on /start.
func (r *ReplyService) Welcome(ctx context.Context, to string) error {
	_, err := r.messenger.SendText(ctx, to, msgWelcome)
	return err
}

func (r *ReplyService) promptRadius(ctx context.Context, to, body string) error {
	presets := entities.PresetRadii
	if len(presets) > maxReplyButtons {
		presets = presets[:maxReplyButtons]
	}
	buttons := make([]providers.Button, 0, len(presets))
	for _, m := range presets {
		buttons = append(buttons, providers.Button{
			ID:    ReplyIDRadiusPrefix + strconv.Itoa(m),
			Title: FormatDistance(m),
		})
	}
	_, err := r.messenger.SendButtons(ctx, to, body, buttons)
	return err
}

// promptCategory sends the category menu, split over several lists when it
// exceeds the row limit.
func (r *ReplyService) promptCategory(ctx context.Context, to, body string) error {
	rows := CategoryRows()
	chunks := (len(rows) + maxListRows - 1) / maxListRows
	for i := 0; i < chunks; i++ {
		end := (i + 1) * maxListRows
		if end > len(rows) {
			end = len(rows)
		}
		text := body
		if chunks > 1 {
			text = fmt.Sprintf("%s (%d/%d)", body, i+1, chunks)
		}
		if _, err := r.messenger.SendList(ctx, to, text, "Categories", rows[i*maxListRows:end]); err != nil {
			return err
		}
	}
	return nil
}

// CategoryRows lists every category followed by the custom search entry.
func CategoryRows() []providers.ListRow {
	cats := entities.Categories()
	rows := make([]providers.ListRow, 0, len(cats)+1)
	for _, c := range cats {
		rows = append(rows, providers.ListRow{ID: ReplyIDCategoryPrefix + c.Tag, Title: c.Label})
	}
	return append(rows, providers.ListRow{
		ID:          ReplyIDCategoryPrefix + entities.CustomCategoryTag,
		Title:       "Custom Query",
		Description: "Type your own search",
	})
}

func (r *ReplyService) sendPage(ctx context.Context, to string, page *entities.ResultPage) error {
	if page == nil || len(page.Places) == 0 {
		text := "No nearby places found 😞. Try a different radius or category."
		if page != nil && page.PageIndex > 0 {
			text = "No more places within your radius on this page."
		}
		if _, err := r.messenger.SendText(ctx, to, text); err != nil {
			return err
		}
	} else {
		for _, place := range page.Places {
			if err := r.sendPlace(ctx, to, place); err != nil {
				return err
			}
		}
	}

	if page != nil && page.HasMore {
		_, err := r.messenger.SendButtons(ctx, to, "Load more results:", []providers.Button{
			{ID: ReplyIDMore, Title: "➡️ More Results"},
			{ID: ReplyIDReset, Title: "🔄 New search"},
		})
		return err
	}
	return nil
}

// sendPlace sends the place text first, then its photo and directions link.
func (r *ReplyService) sendPlace(ctx context.Context, to string, place entities.PlaceResult) error {
	if _, err := r.messenger.SendText(ctx, to, PlaceText(place)); err != nil {
		return err
	}

	if place.PhotoRef != "" {
		r.sendPhoto(ctx, to, place)
	}

	if place.DirectionsURL != "" {
		if _, err := r.messenger.SendLink(ctx, to, place.Name, "🚶 Directions", place.DirectionsURL); err != nil {
			return err
		}
	}
	return nil
}

// sendPhoto is best effort; a missing photo never fails the reply.
func (r *ReplyService) sendPhoto(ctx context.Context, to string, place entities.PlaceResult) {
	data, contentType, err := r.places.FetchPhoto(ctx, place.PhotoRef)
	if err == nil {
		_, err = r.messenger.SendImage(ctx, to, data, contentType, place.Name)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug().Err(err).Str("place_id", place.PlaceID).Msg("photo skipped")
	}
}

// PlaceText renders the text card of one place.
func PlaceText(p entities.PlaceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "• *%s*\n", p.Name)

	if p.Rating != nil {
		fmt.Fprintf(&b, "⭐ %.1f", *p.Rating)
	} else {
		b.WriteString("⭐ N/A")
	}
	if p.UserRatingCount > 0 {
		fmt.Fprintf(&b, " (%d reviews)", p.UserRatingCount)
	}
	b.WriteString("\n")

	if p.Snippet != "" {
		fmt.Fprintf(&b, "💬 \"%s\"\n", p.Snippet)
	}
	address := p.Address
	if address == "" {
		address = "Address not available"
	}
	fmt.Fprintf(&b, "📍 %s\n", address)
	if p.DistanceText != "" {
		fmt.Fprintf(&b, "📏 ~%s away", p.DistanceText)
	}
	return strings.TrimRight(b.String(), "\n")
}

func radiusPrompt(s *entities.UserSession) string {
	text := "Location received."
	if s != nil && s.Origin != nil {
		text = fmt.Sprintf("Location received: %.5f, %.5f.", s.Origin.Latitude, s.Origin.Longitude)
	}
	return text + "\n\nPlease choose a search radius or type a custom one (in meters):"
}

func radiusOf(s *entities.UserSession) string {
	if s == nil || s.RadiusMeters == 0 {
		return FormatDistance(entities.DefaultRadiusMeters)
	}
	return FormatDistance(s.RadiusMeters)
}
