package services_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/nearbyplaces/internal/application/services"
	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
)

func readySession(mode entities.SearchMode, query string) entities.UserSession {
	origin := testOrigin
	return entities.UserSession{
		UserID:       "u1",
		Origin:       &origin,
		RadiusMeters: 1000,
		Mode:         mode,
		Query:        query,
	}
}

func TestBuildSearchRequest_Category(t *testing.T) {
	req, err := services.BuildSearchRequest(readySession(entities.SearchModeCategory, "gas"), "")
	require.NoError(t, err)

	assert.Equal(t, testOrigin, req.Origin)
	assert.Equal(t, 1000, req.RadiusMeters)
	assert.Equal(t, entities.SearchModeCategory, req.Mode)
	assert.Equal(t, "gas", req.Query)
	assert.Equal(t, "gas_station", req.PlaceType)
	assert.Empty(t, req.ContinuationToken)
	assert.Equal(t, services.MaxResultsPerPage, req.MaxResults)
}

func TestBuildSearchRequest_FreeTextWithToken(t *testing.T) {
	req, err := services.BuildSearchRequest(readySession(entities.SearchModeFreeText, "late night ramen"), "tok")
	require.NoError(t, err)

	assert.Equal(t, "late night ramen", req.Query)
	assert.Empty(t, req.PlaceType)
	assert.Equal(t, "tok", req.ContinuationToken)
}

func TestBuildSearchRequest_IsPure(t *testing.T) {
	s := readySession(entities.SearchModeCategory, "cafe")

	first, err := services.BuildSearchRequest(s, "t1")
	require.NoError(t, err)
	second, err := services.BuildSearchRequest(s, "t1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, readySession(entities.SearchModeCategory, "cafe"), s)
}

func TestBuildSearchRequest_IsPureForValidSessions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	texts := []string{"vegan pizza", "24h pharmacy", "  ramen  ", "ice cream near the river"}
	tokens := []string{"", "t1", "CmRaAAAA-next"}

	var sessions []entities.UserSession
	for _, c := range entities.Categories() {
		sessions = append(sessions, readySession(entities.SearchModeCategory, c.Tag))
	}
	for _, text := range texts {
		sessions = append(sessions, readySession(entities.SearchModeFreeText, text))
	}

	for i, base := range sessions {
		for j := 0; j < 20; j++ {
			s := base
			origin := entities.Location{
				Latitude:  rng.Float64()*170 - 85,
				Longitude: rng.Float64()*360 - 180,
			}
			s.Origin = &origin
			s.RadiusMeters = entities.MinRadiusMeters + rng.Intn(entities.MaxRadiusMeters-entities.MinRadiusMeters+1)
			token := tokens[rng.Intn(len(tokens))]
			before := s.Clone()

			t.Run(fmt.Sprintf("%d/%d", i, j), func(t *testing.T) {
				first, err := services.BuildSearchRequest(s, token)
				require.NoError(t, err)
				second, err := services.BuildSearchRequest(s, token)
				require.NoError(t, err)

				assert.Equal(t, first, second)
				assert.Equal(t, before, s.Clone())
				assert.Equal(t, origin, first.Origin)
				assert.Equal(t, s.RadiusMeters, first.RadiusMeters)
				assert.Equal(t, token, first.ContinuationToken)
			})
		}
	}
}

func TestBuildSearchRequest_DefaultRadius(t *testing.T) {
	s := readySession(entities.SearchModeCategory, "cafe")
	s.RadiusMeters = 0

	req, err := services.BuildSearchRequest(s, "")
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultRadiusMeters, req.RadiusMeters)
}

func TestBuildSearchRequest_Validation(t *testing.T) {
	tests := []struct {
		name     string
		session  func() entities.UserSession
		wantCode apperrors.Code
	}{
		{
			name: "missing origin wins over everything else",
			session: func() entities.UserSession {
				s := readySession("", "")
				s.Origin = nil
				s.RadiusMeters = 10
				return s
			},
			wantCode: apperrors.CodeMissingOrigin,
		},
		{
			name: "radius below minimum",
			session: func() entities.UserSession {
				s := readySession(entities.SearchModeCategory, "cafe")
				s.RadiusMeters = 99
				return s
			},
			wantCode: apperrors.CodeInvalidRadius,
		},
		{
			name: "radius above maximum",
			session: func() entities.UserSession {
				s := readySession(entities.SearchModeCategory, "cafe")
				s.RadiusMeters = 50001
				return s
			},
			wantCode: apperrors.CodeInvalidRadius,
		},
		{
			name:     "unknown category",
			session:  func() entities.UserSession { return readySession(entities.SearchModeCategory, "zoo") },
			wantCode: apperrors.CodeUnknownCategory,
		},
		{
			name:     "empty category",
			session:  func() entities.UserSession { return readySession(entities.SearchModeCategory, "") },
			wantCode: apperrors.CodeEmptyQuery,
		},
		{
			name:     "blank free text",
			session:  func() entities.UserSession { return readySession(entities.SearchModeFreeText, "   ") },
			wantCode: apperrors.CodeEmptyQuery,
		},
		{
			name:     "no mode",
			session:  func() entities.UserSession { return readySession("", "") },
			wantCode: apperrors.CodeEmptyQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := services.BuildSearchRequest(tt.session(), "")
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
		})
	}
}

func TestValidateRadius_Bounds(t *testing.T) {
	assert.NoError(t, services.ValidateRadius(entities.MinRadiusMeters))
	assert.NoError(t, services.ValidateRadius(entities.MaxRadiusMeters))
	for _, r := range entities.PresetRadii {
		assert.NoError(t, services.ValidateRadius(r))
	}
	assert.Error(t, services.ValidateRadius(0))
	assert.Error(t, services.ValidateRadius(-500))
}
