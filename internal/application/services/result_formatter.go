package services

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
)

const (
	earthRadiusMeters = 6371000.0

	// SnippetMaxRunes bounds the review snippet shown per place.
	SnippetMaxRunes = 200

	// radiusSlackMeters absorbs rounding when filtering hits by radius.
	radiusSlackMeters = 10
)

// DistanceMeters returns the great-circle distance between two coordinates.
func DistanceMeters(from, to entities.Location) float64 {
	lat1 := degreesToRadians(from.Latitude)
	lat2 := degreesToRadians(to.Latitude)
	dLat := degreesToRadians(to.Latitude - from.Latitude)
	dLon := degreesToRadians(to.Longitude - from.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	a = math.Min(1, math.Max(0, a))

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// FormatDistance renders meters below 1 km as "N m" and above as "N.N km".
func FormatDistance(meters int) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", meters)
	}
	return fmt.Sprintf("%.1f km", float64(meters)/1000)
}

// DirectionsURL builds a Google Maps directions link from origin to the place.
func DirectionsURL(origin entities.Location, dest entities.Location, placeID string) string {
	params := url.Values{}
	params.Set("api", "1")
	params.Set("origin", origin.String())
	params.Set("destination", dest.String())
	if placeID != "" {
		params.Set("destination_place_id", placeID)
	}
	params.Set("travelmode", "walking")
	return "https://www.google.com/maps/dir/?" + params.Encode()
}

// PlaceDirectionsURL builds a directions link for a place known only by its
// id; name is the textual destination the id refines.
func PlaceDirectionsURL(origin entities.Location, name, placeID string) string {
	params := url.Values{}
	params.Set("api", "1")
	params.Set("origin", origin.String())
	params.Set("destination", name)
	params.Set("destination_place_id", placeID)
	params.Set("travelmode", "walking")
	return "https://www.google.com/maps/dir/?" + params.Encode()
}

// FormatPlace turns a raw provider hit into a displayable result.
func FormatPlace(hit entities.PlaceHit, origin entities.Location) entities.PlaceResult {
	result := entities.PlaceResult{
		PlaceID:         hit.ID,
		Name:            strings.TrimSpace(hit.Name),
		Address:         strings.TrimSpace(hit.Address),
		Rating:          hit.Rating,
		UserRatingCount: hit.UserRatingCount,
		DistanceMeters:  -1,
	}
	if result.Name == "" {
		result.Name = "Unnamed place"
	}

	if len(hit.Reviews) > 0 {
		result.Snippet = truncateRunes(strings.TrimSpace(hit.Reviews[0]), SnippetMaxRunes)
	}
	if len(hit.PhotoRefs) > 0 {
		result.PhotoRef = hit.PhotoRefs[0]
	}

	if hit.Location != nil {
		loc := *hit.Location
		result.Location = &loc
		meters := int(math.Round(DistanceMeters(origin, loc)))
		result.DistanceMeters = meters
		result.DistanceText = FormatDistance(meters)
		result.DirectionsURL = DirectionsURL(origin, loc, hit.ID)
	} else if hit.ID != "" {
		destination := result.Name
		if result.Address != "" {
			destination += ", " + result.Address
		}
		result.DirectionsURL = PlaceDirectionsURL(origin, destination, hit.ID)
	}

	return result
}

// FormatPage formats hits in provider order, dropping hits that lie outside
// radius. Free-text search only biases towards the circle, so out-of-range
// hits do come back.
func FormatPage(hits []entities.PlaceHit, origin entities.Location, radiusMeters int) []entities.PlaceResult {
	results := make([]entities.PlaceResult, 0, len(hits))
	for _, hit := range hits {
		result := FormatPlace(hit, origin)
		if result.DistanceMeters > radiusMeters+radiusSlackMeters {
			continue
		}
		results = append(results, result)
	}
	return results
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:max]), func(r rune) bool { return r == ' ' }) + "…"
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
