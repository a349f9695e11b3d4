package services_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/zatekoja/nearbyplaces/internal/application/services"
	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
)

// Mocks

type MockPlacesProvider struct {
	mock.Mock
}

func (m *MockPlacesProvider) Search(ctx context.Context, req entities.SearchRequest) (*entities.ProviderPage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ProviderPage), args.Error(1)
}

func (m *MockPlacesProvider) FetchPhoto(ctx context.Context, photoRef string) ([]byte, string, error) {
	args := m.Called(ctx, photoRef)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendText(ctx context.Context, to, body string) (string, error) {
	args := m.Called(ctx, to, body)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) SendButtons(ctx context.Context, to, body string, buttons []providers.Button) (string, error) {
	args := m.Called(ctx, to, body, buttons)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) SendList(ctx context.Context, to, body, buttonLabel string, rows []providers.ListRow) (string, error) {
	args := m.Called(ctx, to, body, buttonLabel, rows)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) SendLink(ctx context.Context, to, body, label, url string) (string, error) {
	args := m.Called(ctx, to, body, label, url)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) SendImage(ctx context.Context, to string, image []byte, contentType, caption string) (string, error) {
	args := m.Called(ctx, to, image, contentType, caption)
	return args.String(0), args.Error(1)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testOrigin = entities.Location{Latitude: 1.3521, Longitude: 103.8198}

// hitAt returns a hit northMeters north of the test origin.
func hitAt(id string, northMeters float64) entities.PlaceHit {
	return entities.PlaceHit{
		ID:      id,
		Name:    "Place " + id,
		Address: id + " Street",
		Location: &entities.Location{
			Latitude:  testOrigin.Latitude + northMeters/111195.0,
			Longitude: testOrigin.Longitude,
		},
	}
}

func page(token string, hits ...entities.PlaceHit) *entities.ProviderPage {
	return &entities.ProviderPage{Hits: hits, NextPageToken: token}
}

type testBot struct {
	clock      *fakeClock
	store      *services.SessionStore
	places     *MockPlacesProvider
	engine     *services.PaginationEngine
	dispatcher *services.Dispatcher
}

func newTestBot() *testBot {
	clock := newFakeClock()
	store := services.NewSessionStore(30*time.Minute, services.WithClock(clock.Now))
	places := &MockPlacesProvider{}
	engine := services.NewPaginationEngine(store, places, zerolog.Nop())
	return &testBot{
		clock:      clock,
		store:      store,
		places:     places,
		engine:     engine,
		dispatcher: services.NewDispatcher(store, engine, zerolog.Nop(), nil),
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// withToken matches a search request carrying the given continuation token.
func withToken(token string) interface{} {
	return mock.MatchedBy(func(req entities.SearchRequest) bool {
		return req.ContinuationToken == token
	})
}
