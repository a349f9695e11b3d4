package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
)

// ErrNoMoreResults is returned when "more" is asked of an exhausted search.
var ErrNoMoreResults = errors.New("no more results")

// errStaleFetch aborts the commit of a result that belongs to a superseded search.
var errStaleFetch = errors.New("stale page fetch")

// FetchTicket is a claimed page fetch. It is created under the user's lock and
// executed outside it.
type FetchTicket struct {
	UserID     string
	Generation uint64
	Request    entities.SearchRequest
	PageIndex  int

	// restore is the session as it was before a new search was started; a
	// failed first page puts these fields back.
	restore *entities.UserSession
}

// PageFetch is the outcome of running a ticket.
type PageFetch struct {
	Page *entities.ResultPage
	// Stale is set when a newer search replaced the one this fetch belonged to.
	Stale bool
}

// PaginationEngine owns the continuation-token lifecycle of every session:
// at most one page fetch in flight per user, pages in increasing order, and
// results of superseded searches dropped.
type PaginationEngine struct {
	store  *SessionStore
	places providers.PlacesProvider
	logger zerolog.Logger
}

// NewPaginationEngine creates a new pagination engine
func NewPaginationEngine(store *SessionStore, places providers.PlacesProvider, logger zerolog.Logger) *PaginationEngine {
	return &PaginationEngine{
		store:  store,
		places: places,
		logger: logger,
	}
}

// BeginSearch starts a new search on s, discarding any cursor, and claims the
// page-0 fetch. It must be called from inside a SessionStore.Update mutator;
// prior is the session as it was before the triggering event.
func (e *PaginationEngine) BeginSearch(s *entities.UserSession, prior *entities.UserSession) (*FetchTicket, error) {
	req, err := BuildSearchRequest(*s, "")
	if err != nil {
		return nil, err
	}

	s.ResetPagination()
	p := s.Pagination
	p.Status = entities.PaginationFetching
	p.InFlight = true
	p.Request = &req
	s.Phase = entities.PhaseSearching

	return &FetchTicket{
		UserID:     s.UserID,
		Generation: p.Generation,
		Request:    req,
		PageIndex:  0,
		restore:    prior,
	}, nil
}

// RequestMore claims the fetch of the page after the one last shown. The
// previous request is reused with the stored token; query fields are not
// validated again.
func (e *PaginationEngine) RequestMore(ctx context.Context, userID string) (*FetchTicket, error) {
	var ticket *FetchTicket
	_, err := e.store.Update(ctx, userID, func(s *entities.UserSession) error {
		p := s.Pagination
		if p != nil && p.InFlight {
			return apperrors.NewDuplicateRequestError("a page is already being fetched")
		}
		if p == nil || p.Request == nil || p.Status == entities.PaginationIdle {
			if s.Restarted {
				return apperrors.NewSessionExpiredError("session expired, share your location again")
			}
			return apperrors.NewValidationError(apperrors.CodeMissingSearch, "start a search first")
		}
		if p.Status == entities.PaginationExhausted || p.ContinuationToken == "" {
			return ErrNoMoreResults
		}

		p.InFlight = true
		p.Status = entities.PaginationFetching
		ticket = &FetchTicket{
			UserID:     userID,
			Generation: p.Generation,
			Request:    p.Request.WithToken(p.ContinuationToken),
			PageIndex:  p.PageIndex + 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Fetch runs the provider call for a claimed ticket and commits the outcome
// to the session. Provider failures are returned after the in-flight guard is
// released.
func (e *PaginationEngine) Fetch(ctx context.Context, t *FetchTicket) (*PageFetch, error) {
	logger := e.logger.With().
		Str("user_id", t.UserID).
		Uint64("generation", t.Generation).
		Int("page", t.PageIndex).
		Logger()

	page, fetchErr := e.places.Search(ctx, t.Request)

	result := &PageFetch{}
	_, err := e.store.Update(ctx, t.UserID, func(s *entities.UserSession) error {
		p := s.Pagination
		if p == nil || p.Generation != t.Generation || !p.InFlight {
			return errStaleFetch
		}

		p.InFlight = false
		if fetchErr != nil {
			if t.PageIndex == 0 {
				restoreBeforeSearch(s, t.restore)
			} else {
				p.Status = entities.PaginationPageReady
			}
			return nil
		}

		base := t.Request.WithToken("")
		p.Request = &base
		p.PageIndex = t.PageIndex
		p.ContinuationToken = page.NextPageToken
		if page.NextPageToken == "" {
			p.Status = entities.PaginationExhausted
		} else {
			p.Status = entities.PaginationPageReady
		}

		result.Page = &entities.ResultPage{
			Places:    FormatPage(page.Hits, t.Request.Origin, t.Request.RadiusMeters),
			PageIndex: t.PageIndex,
			HasMore:   page.NextPageToken != "",
		}
		return nil
	})

	if errors.Is(err, errStaleFetch) {
		logger.Info().Msg("dropping page of a superseded search")
		return &PageFetch{Stale: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if fetchErr != nil {
		logger.Warn().Err(fetchErr).Msg("page fetch failed")
		return nil, fetchErr
	}

	logger.Debug().
		Int("results", len(result.Page.Places)).
		Bool("has_more", result.Page.HasMore).
		Msg("page ready")
	return result, nil
}

// restoreBeforeSearch puts back the search fields a failed first page had
// replaced. The generation stays current so older fetches remain stale.
func restoreBeforeSearch(s *entities.UserSession, prior *entities.UserSession) {
	generation := s.Pagination.Generation
	if prior == nil {
		s.Pagination.Status = entities.PaginationIdle
		return
	}

	s.Origin = prior.Origin
	s.RadiusMeters = prior.RadiusMeters
	s.Mode = prior.Mode
	s.Query = prior.Query
	s.Phase = prior.Phase

	if prior.Pagination == nil {
		s.Pagination = &entities.PaginationState{
			Status:     entities.PaginationIdle,
			PageIndex:  -1,
			Generation: generation,
		}
		return
	}

	restored := *prior.Pagination
	restored.Generation = generation
	if restored.InFlight {
		// The superseded fetch may still be using this token; it is spent.
		restored.InFlight = false
		restored.ContinuationToken = ""
		if restored.PageIndex >= 0 {
			restored.Status = entities.PaginationExhausted
		} else {
			restored.Status = entities.PaginationIdle
			restored.Request = nil
		}
	}
	s.Pagination = &restored
}
