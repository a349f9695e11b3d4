package providers

import (
	"context"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
)

// PlacesProvider defines the interface for the location-search provider
type PlacesProvider interface {
	// Search returns one page of hits for the request, in provider order.
	// Zero hits is an empty page, not an error.
	Search(ctx context.Context, req entities.SearchRequest) (*entities.ProviderPage, error)

	// FetchPhoto returns the image bytes and content type for a photo reference
	FetchPhoto(ctx context.Context, photoRef string) ([]byte, string, error)
}
