package places

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	"github.com/zatekoja/nearbyplaces/internal/infrastructure/observability"
	"github.com/zatekoja/nearbyplaces/pkg/config"
	"github.com/zatekoja/nearbyplaces/pkg/retry"
)

const (
	ProviderGoogle = "google"
	ProviderMock   = "mock"
)

// NewPlacesProvider selects the places backend named by cfg.Provider.
// cache may be nil; photos are then fetched on every request.
func NewPlacesProvider(cfg config.PlacesConfig, cache providers.CacheProvider, logger zerolog.Logger, metrics *observability.Metrics) (providers.PlacesProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGoogle:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("PLACES_API_KEY (or PLACES_API_KEY_FILE) is required for the google provider")
		}
		retryCfg := retry.DefaultConfig()
		if cfg.RetryAttempts > 0 {
			retryCfg.MaxAttempts = cfg.RetryAttempts
		}
		return NewGooglePlacesClient(cfg.APIKey, Options{
			BaseURL:       cfg.BaseURL,
			HTTPClient:    &http.Client{},
			Timeout:       cfg.Timeout,
			Retry:         retryCfg,
			Cache:         cache,
			PhotoCacheTTL: cfg.PhotoCacheTTL,
			Logger:        logger,
			Metrics:       metrics,
		}), nil
	case ProviderMock:
		logger.Warn().Msg("using mock places provider")
		return NewMockPlacesProvider(), nil
	default:
		return nil, fmt.Errorf("unknown places provider %q", cfg.Provider)
	}
}
