package places

import (
	"strings"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
)

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type circleArea struct {
	Circle circle `json:"circle"`
}

type nearbyRequest struct {
	IncludedTypes       []string   `json:"includedTypes"`
	MaxResultCount      int        `json:"maxResultCount,omitempty"`
	LocationRestriction circleArea `json:"locationRestriction"`
	PageToken           string     `json:"pageToken,omitempty"`
}

type textRequest struct {
	TextQuery    string     `json:"textQuery"`
	PageSize     int        `json:"pageSize,omitempty"`
	LocationBias circleArea `json:"locationBias"`
	PageToken    string     `json:"pageToken,omitempty"`
}

type localizedText struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

type review struct {
	Text         *localizedText `json:"text,omitempty"`
	OriginalText *localizedText `json:"originalText,omitempty"`
}

type photo struct {
	Name string `json:"name"`
}

type place struct {
	ID               string         `json:"id"`
	DisplayName      *localizedText `json:"displayName,omitempty"`
	FormattedAddress string         `json:"formattedAddress"`
	Location         *latLng        `json:"location,omitempty"`
	Rating           *float64       `json:"rating,omitempty"`
	UserRatingCount  int            `json:"userRatingCount"`
	Reviews          []review       `json:"reviews,omitempty"`
	Photos           []photo        `json:"photos,omitempty"`
}

type searchResponse struct {
	Places        []place `json:"places"`
	NextPageToken string  `json:"nextPageToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type cachedPhoto struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

func (p place) toHit() entities.PlaceHit {
	hit := entities.PlaceHit{
		ID:              p.ID,
		Address:         p.FormattedAddress,
		Rating:          p.Rating,
		UserRatingCount: p.UserRatingCount,
	}
	if p.DisplayName != nil {
		hit.Name = p.DisplayName.Text
	}
	if p.Location != nil {
		hit.Location = &entities.Location{Latitude: p.Location.Latitude, Longitude: p.Location.Longitude}
	}
	for _, r := range p.Reviews {
		text := ""
		switch {
		case r.Text != nil && strings.TrimSpace(r.Text.Text) != "":
			text = r.Text.Text
		case r.OriginalText != nil:
			text = r.OriginalText.Text
		}
		if text = strings.TrimSpace(text); text != "" {
			hit.Reviews = append(hit.Reviews, text)
		}
	}
	for _, ph := range p.Photos {
		if ph.Name != "" {
			hit.PhotoRefs = append(hit.PhotoRefs, ph.Name)
		}
	}
	return hit
}
