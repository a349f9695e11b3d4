package places

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
)

const mockPages = 2

// mockPhoto is a 1x1 transparent PNG.
var mockPhoto = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// MockPlacesProvider returns deterministic places around the search origin.
// It serves two pages per search and is used for local development.
type MockPlacesProvider struct{}

// NewMockPlacesProvider creates a new mock places provider
func NewMockPlacesProvider() *MockPlacesProvider {
	return &MockPlacesProvider{}
}

// Search returns a page of fake hits placed inside the requested radius.
func (m *MockPlacesProvider) Search(ctx context.Context, req entities.SearchRequest) (*entities.ProviderPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageIndex := 0
	if req.ContinuationToken != "" {
		n, err := strconv.Atoi(req.ContinuationToken)
		if err != nil || n <= 0 || n >= mockPages {
			return &entities.ProviderPage{}, nil
		}
		pageIndex = n
	}

	label := req.Query
	if req.Mode == entities.SearchModeCategory {
		if c, ok := entities.LookupCategory(req.Query); ok {
			label = c.Label
		}
	}

	// 0.001 degrees of latitude is roughly 111 m.
	step := float64(req.RadiusMeters) / 111_000 / 4
	rating := 4.2
	hits := []entities.PlaceHit{
		{
			ID:      fmt.Sprintf("mock-%d-1", pageIndex),
			Name:    fmt.Sprintf("Mock %s %d", label, pageIndex*2+1),
			Address: "123 Main St",
			Location: &entities.Location{
				Latitude:  req.Origin.Latitude + step,
				Longitude: req.Origin.Longitude,
			},
			Rating:          &rating,
			UserRatingCount: 87,
			Reviews:         []string{"Friendly staff and quick service."},
			PhotoRefs:       []string{fmt.Sprintf("places/mock-%d-1/photos/p1", pageIndex)},
		},
		{
			ID:      fmt.Sprintf("mock-%d-2", pageIndex),
			Name:    fmt.Sprintf("Mock %s %d", label, pageIndex*2+2),
			Address: "456 Side Ave",
			Location: &entities.Location{
				Latitude:  req.Origin.Latitude - step,
				Longitude: req.Origin.Longitude - step,
			},
		},
	}

	page := &entities.ProviderPage{Hits: hits}
	if pageIndex+1 < mockPages {
		page.NextPageToken = strconv.Itoa(pageIndex + 1)
	}
	return page, nil
}

// FetchPhoto returns a placeholder image for any reference.
func (m *MockPlacesProvider) FetchPhoto(ctx context.Context, photoRef string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	return mockPhoto, "image/png", nil
}
