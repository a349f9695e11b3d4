package services

import (
	"fmt"
	"strings"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
)

// MaxResultsPerPage is the page size requested from the provider.
const MaxResultsPerPage = 10

// ValidateRadius rejects radii outside the accepted bounds.
func ValidateRadius(meters int) error {
	if meters < entities.MinRadiusMeters || meters > entities.MaxRadiusMeters {
		return apperrors.NewValidationError(apperrors.CodeInvalidRadius,
			fmt.Sprintf("radius must be between %d and %d meters, got %d",
				entities.MinRadiusMeters, entities.MaxRadiusMeters, meters))
	}
	return nil
}

// BuildSearchRequest derives the provider request for a session snapshot.
// It has no side effects: the same snapshot and token always give the same request.
func BuildSearchRequest(session entities.UserSession, token string) (entities.SearchRequest, error) {
	if session.Origin == nil {
		return entities.SearchRequest{}, apperrors.NewValidationError(apperrors.CodeMissingOrigin,
			"share a location before searching")
	}

	radius := session.RadiusMeters
	if radius == 0 {
		radius = entities.DefaultRadiusMeters
	}
	if err := ValidateRadius(radius); err != nil {
		return entities.SearchRequest{}, err
	}

	req := entities.SearchRequest{
		Origin:            *session.Origin,
		RadiusMeters:      radius,
		Mode:              session.Mode,
		ContinuationToken: token,
		MaxResults:        MaxResultsPerPage,
	}

	switch session.Mode {
	case entities.SearchModeCategory:
		if session.Query == "" {
			return entities.SearchRequest{}, apperrors.NewValidationError(apperrors.CodeEmptyQuery,
				"choose a category")
		}
		category, ok := entities.LookupCategory(session.Query)
		if !ok {
			return entities.SearchRequest{}, apperrors.NewValidationError(apperrors.CodeUnknownCategory,
				fmt.Sprintf("unknown category %q", session.Query))
		}
		req.Query = category.Tag
		req.PlaceType = category.PlaceType
	case entities.SearchModeFreeText:
		if strings.TrimSpace(session.Query) == "" {
			return entities.SearchRequest{}, apperrors.NewValidationError(apperrors.CodeEmptyQuery,
				"type what you are looking for")
		}
		req.Query = session.Query
	default:
		return entities.SearchRequest{}, apperrors.NewValidationError(apperrors.CodeEmptyQuery,
			"choose a category or type a search")
	}

	return req, nil
}
