package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
)

// Outcome tells the messaging layer what to render for a handled event.
type Outcome string

const (
	OutcomeAwaitRadius   Outcome = "await_radius"
	OutcomeAwaitQuery    Outcome = "await_query"
	OutcomeAwaitText     Outcome = "await_text"
	OutcomeResults       Outcome = "results"
	OutcomeNoMoreResults Outcome = "no_more_results"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeStale         Outcome = "stale"
	OutcomeReset         Outcome = "reset"
	outcomeError         Outcome = "error"
)

// DispatchResult is what Handle hands back for rendering.
type DispatchResult struct {
	EventID string
	Outcome Outcome
	// Session is the user's session after the event was applied.
	Session *entities.UserSession
	Page    *entities.ResultPage
}

// Dispatcher routes inbound events to session transitions and runs searches
// when a transition leaves the session ready.
type Dispatcher struct {
	store   *SessionStore
	engine  *PaginationEngine
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(store *SessionStore, engine *PaginationEngine, logger zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		engine:  engine,
		logger:  logger,
		metrics: metrics,
	}
}

// Handle applies one event for userID. Typed errors from pkg/errors are
// returned for the caller to render; duplicate "more" presses and exhausted
// searches are reported as outcomes, not errors.
func (d *Dispatcher) Handle(ctx context.Context, userID string, event entities.Event) (*DispatchResult, error) {
	ctx, span := observability.StartSpan(ctx, "dispatcher.handle")
	defer span.End()

	eventID := uuid.NewString()
	logger := d.logger.With().
		Str("event_id", eventID).
		Str("user_id", userID).
		Str("event", string(event.Kind())).
		Logger()
	observability.SetSpanAttributes(span,
		attribute.String("event.id", eventID),
		attribute.String("event.kind", string(event.Kind())),
	)

	start := time.Now()
	result, err := d.route(ctx, userID, event)
	switch {
	case err == nil:
	case apperrors.IsType(err, apperrors.ErrorTypeDuplicateRequest):
		result, err = &DispatchResult{Outcome: OutcomeDuplicate}, nil
	case errors.Is(err, ErrNoMoreResults):
		result, err = &DispatchResult{Outcome: OutcomeNoMoreResults}, nil
	}

	if err != nil {
		observability.RecordError(span, err)
		observability.RecordDispatch(ctx, d.metrics, string(event.Kind()), string(outcomeError))
		level := logger.Warn()
		if apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			level = logger.Info()
		}
		level.Err(err).Dur("elapsed", time.Since(start)).Msg("event rejected")
		return nil, err
	}

	result.EventID = eventID
	observability.RecordDispatch(ctx, d.metrics, string(event.Kind()), string(result.Outcome))
	logger.Info().
		Str("outcome", string(result.Outcome)).
		Dur("elapsed", time.Since(start)).
		Msg("event handled")
	return result, nil
}

func (d *Dispatcher) route(ctx context.Context, userID string, event entities.Event) (*DispatchResult, error) {
	switch ev := event.(type) {
	case entities.LocationReceived:
		return d.onLocation(ctx, userID, ev)
	case entities.RadiusChosen:
		return d.onRadius(ctx, userID, ev)
	case entities.CategoryChosen:
		return d.onCategory(ctx, userID, ev)
	case entities.TextQuery:
		return d.onText(ctx, userID, ev)
	case entities.MoreRequested:
		return d.onMore(ctx, userID)
	case entities.SessionReset:
		return &DispatchResult{Outcome: OutcomeReset, Session: d.store.Reset(ctx, userID)}, nil
	default:
		return nil, apperrors.NewInternalError(fmt.Sprintf("unsupported event %T", event), nil)
	}
}

func (d *Dispatcher) onLocation(ctx context.Context, userID string, ev entities.LocationReceived) (*DispatchResult, error) {
	if !ev.Origin.Valid() {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidLocation,
			fmt.Sprintf("coordinate %s is out of range", ev.Origin))
	}

	session, err := d.store.Update(ctx, userID, func(s *entities.UserSession) error {
		origin := ev.Origin
		s.Origin = &origin
		s.Mode = ""
		s.Query = ""
		s.ResetPagination()
		s.Phase = entities.PhaseAwaitingRadius
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Outcome: OutcomeAwaitRadius, Session: session}, nil
}

func (d *Dispatcher) onRadius(ctx context.Context, userID string, ev entities.RadiusChosen) (*DispatchResult, error) {
	var ticket *FetchTicket
	session, err := d.store.Update(ctx, userID, func(s *entities.UserSession) error {
		if err := requireOrigin(s); err != nil {
			return err
		}
		if err := ValidateRadius(ev.Meters); err != nil {
			return err
		}

		prior := s.Clone()
		s.RadiusMeters = ev.Meters
		if s.HasQuery() {
			t, err := d.engine.BeginSearch(s, prior)
			if err != nil {
				return err
			}
			ticket = t
			return nil
		}

		s.ResetPagination()
		if s.Phase != entities.PhaseAwaitingText {
			s.Phase = entities.PhaseAwaitingQuery
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return &DispatchResult{Outcome: OutcomeAwaitQuery, Session: session}, nil
	}
	return d.fetch(ctx, ticket, session)
}

func (d *Dispatcher) onCategory(ctx context.Context, userID string, ev entities.CategoryChosen) (*DispatchResult, error) {
	tag := strings.ToLower(strings.TrimSpace(ev.Tag))

	var ticket *FetchTicket
	session, err := d.store.Update(ctx, userID, func(s *entities.UserSession) error {
		if err := requireOrigin(s); err != nil {
			return err
		}

		if tag == entities.CustomCategoryTag {
			s.Mode = entities.SearchModeFreeText
			s.Query = ""
			s.ResetPagination()
			s.Phase = entities.PhaseAwaitingText
			return nil
		}

		prior := s.Clone()
		s.Mode = entities.SearchModeCategory
		s.Query = tag
		t, err := d.engine.BeginSearch(s, prior)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return &DispatchResult{Outcome: OutcomeAwaitText, Session: session}, nil
	}
	return d.fetch(ctx, ticket, session)
}

func (d *Dispatcher) onText(ctx context.Context, userID string, ev entities.TextQuery) (*DispatchResult, error) {
	text := strings.TrimSpace(ev.Text)

	var ticket *FetchTicket
	session, err := d.store.Update(ctx, userID, func(s *entities.UserSession) error {
		if err := requireOrigin(s); err != nil {
			return err
		}

		prior := s.Clone()
		s.Mode = entities.SearchModeFreeText
		s.Query = text
		t, err := d.engine.BeginSearch(s, prior)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.fetch(ctx, ticket, session)
}

func (d *Dispatcher) onMore(ctx context.Context, userID string) (*DispatchResult, error) {
	ticket, err := d.engine.RequestMore(ctx, userID)
	if err != nil {
		return nil, err
	}
	return d.fetch(ctx, ticket, nil)
}

func (d *Dispatcher) fetch(ctx context.Context, ticket *FetchTicket, session *entities.UserSession) (*DispatchResult, error) {
	fetched, err := d.engine.Fetch(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if fetched.Stale {
		return &DispatchResult{Outcome: OutcomeStale, Session: session}, nil
	}
	return &DispatchResult{Outcome: OutcomeResults, Session: session, Page: fetched.Page}, nil
}

func requireOrigin(s *entities.UserSession) error {
	if s.Origin != nil {
		return nil
	}
	if s.Restarted {
		return apperrors.NewSessionExpiredError("session expired, share your location again")
	}
	return apperrors.NewValidationError(apperrors.CodeMissingOrigin, "share a location first")
}
