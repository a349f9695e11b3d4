package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/nearbyplaces/internal/application/services"
	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
)

func newReplyService() (*services.ReplyService, *MockMessenger, *MockPlacesProvider) {
	messenger := &MockMessenger{}
	places := &MockPlacesProvider{}
	return services.NewReplyService(messenger, places, testLogger()), messenger, places
}

func TestReplyService_AwaitRadiusSendsButtons(t *testing.T) {
	reply, messenger, _ := newReplyService()
	origin := testOrigin
	session := &entities.UserSession{Origin: &origin}

	var buttons []providers.Button
	messenger.On("SendButtons", mock.Anything, "u1", mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { buttons = args.Get(3).([]providers.Button) }).
		Return("wamid", nil).Once()

	err := reply.Render(context.Background(), "u1", &services.DispatchResult{Outcome: services.OutcomeAwaitRadius, Session: session})
	require.NoError(t, err)

	require.Len(t, buttons, 3)
	assert.Equal(t, "radius:500", buttons[0].ID)
	assert.Equal(t, "500 m", buttons[0].Title)
	assert.Equal(t, "radius:2000", buttons[2].ID)
	messenger.AssertExpectations(t)
}

func TestReplyService_AwaitQuerySplitsCategoryMenu(t *testing.T) {
	reply, messenger, _ := newReplyService()

	var lists [][]providers.ListRow
	messenger.On("SendList", mock.Anything, "u1", mock.AnythingOfType("string"), "Categories", mock.Anything).
		Run(func(args mock.Arguments) { lists = append(lists, args.Get(4).([]providers.ListRow)) }).
		Return("wamid", nil)

	err := reply.Render(context.Background(), "u1", &services.DispatchResult{
		Outcome: services.OutcomeAwaitQuery,
		Session: &entities.UserSession{RadiusMeters: 1000},
	})
	require.NoError(t, err)

	total := len(entities.Categories()) + 1
	require.Len(t, lists, (total+9)/10)
	var all []providers.ListRow
	for _, rows := range lists {
		assert.LessOrEqual(t, len(rows), 10)
		all = append(all, rows...)
	}
	require.Len(t, all, total)
	assert.Equal(t, "category:restaurant", all[0].ID)
	assert.Equal(t, "category:"+entities.CustomCategoryTag, all[total-1].ID)
}

func TestReplyService_ResultsSendTextBeforePhotoAndLink(t *testing.T) {
	reply, messenger, places := newReplyService()
	ctx := context.Background()

	var order []string
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) { order = append(order, name) }
	}

	rating := 4.5
	withPhoto := entities.PlaceResult{
		PlaceID: "p1", Name: "Cafe Uno", Address: "1 Road", Rating: &rating, UserRatingCount: 12,
		PhotoRef: "places/p1/photos/a", DistanceText: "120 m", DirectionsURL: "https://maps.example/p1",
	}
	noPhoto := entities.PlaceResult{PlaceID: "p2", Name: "Cafe Dos", Address: "2 Road"}

	places.On("FetchPhoto", mock.Anything, "places/p1/photos/a").Return([]byte("img"), "image/jpeg", nil).Once()
	messenger.On("SendText", mock.Anything, "u1", mock.MatchedBy(func(body string) bool {
		return body == services.PlaceText(withPhoto)
	})).Run(record("text:p1")).Return("m1", nil).Once()
	messenger.On("SendImage", mock.Anything, "u1", []byte("img"), "image/jpeg", "Cafe Uno").
		Run(record("image:p1")).Return("m2", nil).Once()
	messenger.On("SendLink", mock.Anything, "u1", "Cafe Uno", mock.Anything, "https://maps.example/p1").
		Run(record("link:p1")).Return("m3", nil).Once()
	messenger.On("SendText", mock.Anything, "u1", services.PlaceText(noPhoto)).
		Run(record("text:p2")).Return("m4", nil).Once()
	messenger.On("SendButtons", mock.Anything, "u1", mock.Anything, mock.MatchedBy(func(b []providers.Button) bool {
		return len(b) == 2 && b[0].ID == services.ReplyIDMore && b[1].ID == services.ReplyIDReset
	})).Run(record("more")).Return("m5", nil).Once()

	err := reply.Render(ctx, "u1", &services.DispatchResult{
		Outcome: services.OutcomeResults,
		Page:    &entities.ResultPage{Places: []entities.PlaceResult{withPhoto, noPhoto}, HasMore: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"text:p1", "image:p1", "link:p1", "text:p2", "more"}, order)
	messenger.AssertExpectations(t)
	places.AssertExpectations(t)
}

func TestReplyService_PhotoFailureIsIgnored(t *testing.T) {
	reply, messenger, places := newReplyService()

	place := entities.PlaceResult{Name: "Cafe Uno", PhotoRef: "ref", DirectionsURL: "https://maps.example/x"}
	places.On("FetchPhoto", mock.Anything, "ref").Return(nil, "", errors.New("gone")).Once()
	messenger.On("SendText", mock.Anything, "u1", mock.Anything).Return("m1", nil).Once()
	messenger.On("SendLink", mock.Anything, "u1", "Cafe Uno", mock.Anything, "https://maps.example/x").Return("m2", nil).Once()

	err := reply.Render(context.Background(), "u1", &services.DispatchResult{
		Outcome: services.OutcomeResults,
		Page:    &entities.ResultPage{Places: []entities.PlaceResult{place}},
	})
	require.NoError(t, err)
	messenger.AssertNotCalled(t, "SendImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	messenger.AssertNotCalled(t, "SendButtons", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReplyService_TextFailureStopsPage(t *testing.T) {
	reply, messenger, _ := newReplyService()
	boom := errors.New("send failed")
	messenger.On("SendText", mock.Anything, "u1", mock.Anything).Return("", boom).Once()

	err := reply.Render(context.Background(), "u1", &services.DispatchResult{
		Outcome: services.OutcomeResults,
		Page: &entities.ResultPage{Places: []entities.PlaceResult{
			{Name: "a", DirectionsURL: "https://maps.example/a"},
			{Name: "b"},
		}},
	})
	assert.ErrorIs(t, err, boom)
	messenger.AssertNumberOfCalls(t, "SendText", 1)
}

func TestReplyService_EmptyFirstPage(t *testing.T) {
	reply, messenger, _ := newReplyService()
	messenger.On("SendText", mock.Anything, "u1", mock.MatchedBy(func(body string) bool {
		return body == "No nearby places found 😞. Try a different radius or category."
	})).Return("m", nil).Once()

	err := reply.Render(context.Background(), "u1", &services.DispatchResult{
		Outcome: services.OutcomeResults,
		Page:    &entities.ResultPage{},
	})
	require.NoError(t, err)
	messenger.AssertExpectations(t)
}

func TestReplyService_StaleSendsNothing(t *testing.T) {
	reply, messenger, _ := newReplyService()

	err := reply.Render(context.Background(), "u1", &services.DispatchResult{Outcome: services.OutcomeStale})
	require.NoError(t, err)
	assert.Empty(t, messenger.Calls)
}

func TestReplyService_RenderError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		method string
		expect string
	}{
		{
			name:   "session expired",
			err:    apperrors.NewSessionExpiredError("expired"),
			method: "SendText",
			expect: "session expired",
		},
		{
			name:   "missing origin",
			err:    apperrors.NewValidationError(apperrors.CodeMissingOrigin, "no origin"),
			method: "SendText",
			expect: "current location",
		},
		{
			name:   "invalid radius",
			err:    apperrors.NewValidationError(apperrors.CodeInvalidRadius, "bad radius"),
			method: "SendButtons",
			expect: "between 100 m and 50.0 km",
		},
		{
			name:   "empty query",
			err:    apperrors.NewValidationError(apperrors.CodeEmptyQuery, "empty"),
			method: "SendText",
			expect: "non-empty",
		},
		{
			name:   "unknown category",
			err:    apperrors.NewValidationError(apperrors.CodeUnknownCategory, "unknown"),
			method: "SendList",
			expect: "Unknown category",
		},
		{
			name:   "quota",
			err:    apperrors.NewProviderError(apperrors.CodeQuotaExceeded, "quota", nil),
			method: "SendText",
			expect: "busy",
		},
		{
			name:   "transient",
			err:    apperrors.NewProviderError(apperrors.CodeTransient, "timeout", nil),
			method: "SendText",
			expect: "try again",
		},
		{
			name:   "auth",
			err:    apperrors.NewProviderError(apperrors.CodeAuth, "denied", nil),
			method: "SendText",
			expect: "unavailable",
		},
		{
			name:   "untyped",
			err:    errors.New("boom"),
			method: "SendText",
			expect: "/start",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, messenger, _ := newReplyService()
			messenger.On("SendText", mock.Anything, "u1", mock.Anything).Return("m", nil).Maybe()
			messenger.On("SendButtons", mock.Anything, "u1", mock.Anything, mock.Anything).Return("m", nil).Maybe()
			messenger.On("SendList", mock.Anything, "u1", mock.Anything, mock.Anything, mock.Anything).Return("m", nil).Maybe()

			require.NoError(t, reply.RenderError(context.Background(), "u1", tt.err))

			require.NotEmpty(t, messenger.Calls)
			first := messenger.Calls[0]
			assert.Equal(t, tt.method, first.Method)
			assert.Contains(t, first.Arguments.String(2), tt.expect)
		})
	}
}

func TestPlaceText(t *testing.T) {
	rating := 4.3
	text := services.PlaceText(entities.PlaceResult{
		Name:            "Cafe Uno",
		Address:         "1 Road",
		Rating:          &rating,
		UserRatingCount: 3,
		Snippet:         "Great coffee",
		DistanceText:    "120 m",
	})
	assert.Equal(t, "• *Cafe Uno*\n⭐ 4.3 (3 reviews)\n💬 \"Great coffee\"\n📍 1 Road\n📏 ~120 m away", text)

	bare := services.PlaceText(entities.PlaceResult{Name: "Nowhere"})
	assert.Equal(t, "• *Nowhere*\n⭐ N/A\n📍 Address not available", bare)
}
