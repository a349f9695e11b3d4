package entities

// SearchRequest is an immutable provider query built from a session snapshot.
type SearchRequest struct {
	Origin       Location   `json:"origin"`
	RadiusMeters int        `json:"radius_meters"`
	Mode         SearchMode `json:"mode"`
	// Query holds the category tag or the free-text string.
	Query             string `json:"query"`
	PlaceType         string `json:"place_type,omitempty"`
	ContinuationToken string `json:"continuation_token,omitempty"`
	MaxResults        int    `json:"max_results"`
}

// WithToken returns a copy of the request continuing at token.
func (r SearchRequest) WithToken(token string) SearchRequest {
	r.ContinuationToken = token
	return r
}

// PlaceHit is one raw entry returned by the places provider.
type PlaceHit struct {
	ID              string
	Name            string
	Address         string
	Location        *Location
	Rating          *float64
	UserRatingCount int
	Reviews         []string
	PhotoRefs       []string
}

// ProviderPage is one page of provider hits in provider (relevance) order.
type ProviderPage struct {
	Hits          []PlaceHit
	NextPageToken string
}

// PlaceResult is a displayable place.
type PlaceResult struct {
	PlaceID         string    `json:"place_id,omitempty"`
	Name            string    `json:"name"`
	Address         string    `json:"address"`
	Rating          *float64  `json:"rating,omitempty"`
	UserRatingCount int       `json:"user_rating_count"`
	Snippet         string    `json:"snippet,omitempty"`
	PhotoRef        string    `json:"photo_ref,omitempty"`
	Location        *Location `json:"location,omitempty"`
	// DistanceMeters is -1 when the provider sent no coordinate.
	DistanceMeters int    `json:"distance_meters"`
	DistanceText   string `json:"distance_text,omitempty"`
	DirectionsURL  string `json:"directions_url,omitempty"`
}

// ResultPage is one page of formatted results.
type ResultPage struct {
	Places    []PlaceResult `json:"places"`
	PageIndex int           `json:"page_index"`
	HasMore   bool          `json:"has_more"`
}
