package places

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/nearbyplaces/internal/domain/entities"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	"github.com/zatekoja/nearbyplaces/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/nearbyplaces/pkg/errors"
	"github.com/zatekoja/nearbyplaces/pkg/retry"
)

const (
	googlePlacesBaseURL = "https://places.googleapis.com/v1"
	defaultHTTPTimeout  = 10 * time.Second
	defaultPhotoTTL     = 24 * time.Hour

	searchFieldMask = "places.id,places.displayName,places.formattedAddress,places.location," +
		"places.rating,places.userRatingCount,places.reviews,places.photos,nextPageToken"

	photoMaxWidthPx  = 800
	photoMaxHeightPx = 600
	maxPhotoBytes    = 5 << 20
	maxErrorBody     = 64 << 10

	photoCachePrefix = "places:v1:photo:"

	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// Options configures a GooglePlacesClient. Zero values fall back to defaults.
type Options struct {
	BaseURL       string
	HTTPClient    *http.Client
	Timeout       time.Duration
	Retry         retry.Config
	Cache         providers.CacheProvider
	PhotoCacheTTL time.Duration
	Logger        zerolog.Logger
	Metrics       *observability.Metrics

	// BreakerFailures consecutive provider-side failures open the circuit
	// for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// GooglePlacesClient implements PlacesProvider against the Google Places API (v1).
type GooglePlacesClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retry      retry.Config
	cache      providers.CacheProvider
	photoTTL   time.Duration
	logger     zerolog.Logger
	metrics    *observability.Metrics
	breaker    *gobreaker.CircuitBreaker
}

// NewGooglePlacesClient creates a new Google Places client.
func NewGooglePlacesClient(apiKey string, opts Options) *GooglePlacesClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = googlePlacesBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	retryCfg := opts.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	photoTTL := opts.PhotoCacheTTL
	if photoTTL <= 0 {
		photoTTL = defaultPhotoTTL
	}

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	logger := opts.Logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "google-places",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("places circuit breaker changed state")
		},
	})

	return &GooglePlacesClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		retry:      retryCfg,
		cache:      opts.Cache,
		photoTTL:   photoTTL,
		logger:     logger,
		metrics:    opts.Metrics,
		breaker:    breaker,
	}
}

// Search issues a nearby (category) or text (free-text) search for one page.
func (c *GooglePlacesClient) Search(ctx context.Context, req entities.SearchRequest) (*entities.ProviderPage, error) {
	if c.apiKey == "" {
		return nil, apperrors.NewProviderError(apperrors.CodeAuth, "places api key is not configured", nil)
	}

	endpoint, body, err := c.buildSearch(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode search request", err)
	}

	ctx, span := observability.StartSpan(ctx, "places.search")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("places.mode", string(req.Mode)),
		attribute.Int("places.radius_m", req.RadiusMeters),
		attribute.Bool("places.continuation", req.ContinuationToken != ""),
	)

	var resp searchResponse
	err = c.guard(func() error {
		return retry.DoWithLog(ctx, c.retry, "places search", func() error {
			resp = searchResponse{}
			return c.attempt(ctx, "search", func(attemptCtx context.Context) error {
				return c.postJSON(attemptCtx, endpoint, payload, &resp)
			})
		}, c.logRetry("search"))
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	page := &entities.ProviderPage{
		Hits:          make([]entities.PlaceHit, 0, len(resp.Places)),
		NextPageToken: resp.NextPageToken,
	}
	for _, p := range resp.Places {
		page.Hits = append(page.Hits, p.toHit())
	}
	observability.SetSpanAttributes(span, attribute.Int("places.hits", len(page.Hits)))

	return page, nil
}

// FetchPhoto downloads the media of a photo resource name.
func (c *GooglePlacesClient) FetchPhoto(ctx context.Context, photoRef string) ([]byte, string, error) {
	ref := strings.Trim(strings.TrimSpace(photoRef), "/")
	if ref == "" {
		return nil, "", apperrors.NewProviderError(apperrors.CodeInvalidRequest, "photo reference is required", nil)
	}
	if c.apiKey == "" {
		return nil, "", apperrors.NewProviderError(apperrors.CodeAuth, "places api key is not configured", nil)
	}

	cacheKey := photoCachePrefix + hashKey(ref)
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil && len(cached) > 0 {
			var photo cachedPhoto
			if err := json.Unmarshal(cached, &photo); err == nil && len(photo.Data) > 0 {
				return photo.Data, photo.ContentType, nil
			}
		}
	}

	ctx, span := observability.StartSpan(ctx, "places.photo")
	defer span.End()

	params := url.Values{}
	params.Set("maxWidthPx", fmt.Sprint(photoMaxWidthPx))
	params.Set("maxHeightPx", fmt.Sprint(photoMaxHeightPx))
	reqURL := fmt.Sprintf("%s/%s/media?%s", c.baseURL, ref, params.Encode())

	var photo cachedPhoto
	err := c.guard(func() error {
		return retry.DoWithLog(ctx, c.retry, "places photo", func() error {
			return c.attempt(ctx, "photo", func(attemptCtx context.Context) error {
				data, contentType, err := c.getBytes(attemptCtx, reqURL)
				if err != nil {
					return err
				}
				photo = cachedPhoto{ContentType: contentType, Data: data}
				return nil
			})
		}, c.logRetry("photo"))
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, "", err
	}

	if c.cache != nil {
		if payload, err := json.Marshal(photo); err == nil {
			if err := c.cache.Set(ctx, cacheKey, payload, int(c.photoTTL.Seconds())); err != nil {
				c.logger.Debug().Err(err).Msg("failed to cache photo")
			}
		}
	}

	return photo.Data, photo.ContentType, nil
}

func (c *GooglePlacesClient) buildSearch(req entities.SearchRequest) (string, any, error) {
	circle := circleArea{Circle: circle{
		Center: latLng{Latitude: req.Origin.Latitude, Longitude: req.Origin.Longitude},
		Radius: float64(req.RadiusMeters),
	}}

	switch req.Mode {
	case entities.SearchModeCategory:
		return c.baseURL + "/places:searchNearby", nearbyRequest{
			IncludedTypes:       []string{req.PlaceType},
			MaxResultCount:      req.MaxResults,
			LocationRestriction: circle,
			PageToken:           req.ContinuationToken,
		}, nil
	case entities.SearchModeFreeText:
		return c.baseURL + "/places:searchText", textRequest{
			TextQuery:    req.Query,
			PageSize:     req.MaxResults,
			LocationBias: circle,
			PageToken:    req.ContinuationToken,
		}, nil
	default:
		return "", nil, apperrors.NewProviderError(apperrors.CodeInvalidRequest,
			fmt.Sprintf("unsupported search mode %q", req.Mode), nil)
	}
}

// guard runs call through the circuit breaker. Only provider-side failures
// count against the breaker; an open circuit fails fast as Transient.
func (c *GooglePlacesClient) guard(call func() error) error {
	var callErr error
	_, err := c.breaker.Execute(func() (interface{}, error) {
		callErr = call()
		switch apperrors.CodeOf(callErr) {
		case apperrors.CodeTransient, apperrors.CodeQuotaExceeded:
			return nil, callErr
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewProviderError(apperrors.CodeTransient, "places provider temporarily unavailable", err)
	}
	return callErr
}

// attempt runs one bounded call, records it, and marks errors that must not
// be retried as permanent.
func (c *GooglePlacesClient) attempt(ctx context.Context, operation string, call func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := call(attemptCtx)
	if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
		err = apperrors.NewProviderError(apperrors.CodeTransient, "places request timed out", err)
	}

	kind := ""
	if err != nil {
		kind = string(apperrors.CodeOf(err))
	}
	observability.RecordProviderCall(ctx, c.metrics, operation, kind, time.Since(start))

	if err == nil {
		return nil
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeTransient, apperrors.CodeQuotaExceeded:
		return err
	default:
		return retry.Permanent(err)
	}
}

func (c *GooglePlacesClient) logRetry(operation string) func(int, error, time.Duration) {
	return func(attempt int, err error, nextDelay time.Duration) {
		c.logger.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Msg("places call failed, retrying")
	}
}

func (c *GooglePlacesClient) postJSON(ctx context.Context, endpoint string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewInternalError("failed to build places request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewProviderError(apperrors.CodeTransient, "places request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewProviderError(apperrors.CodeTransient, "failed to decode places response", err)
	}
	return nil
}

func (c *GooglePlacesClient) getBytes(ctx context.Context, reqURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to build photo request", err)
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", apperrors.NewProviderError(apperrors.CodeTransient, "photo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", classifyResponse(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, "", apperrors.NewProviderError(apperrors.CodeTransient, "failed to read photo", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, "", apperrors.NewProviderError(apperrors.CodeInvalidRequest, "photo exceeds size limit", nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// classifyResponse maps a non-2xx provider response to a typed error.
func classifyResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorResponse
	_ = json.Unmarshal(raw, &body)
	status := body.Error.Status
	message := body.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	cause := fmt.Errorf("status %d %s: %s", resp.StatusCode, status, message)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED" ||
		strings.Contains(strings.ToLower(message), "api key"):
		return apperrors.NewProviderError(apperrors.CodeAuth, "places provider rejected the api key", cause)
	case resp.StatusCode == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return apperrors.NewProviderError(apperrors.CodeQuotaExceeded, "places quota exceeded", cause)
	case resp.StatusCode >= 500:
		return apperrors.NewProviderError(apperrors.CodeTransient, "places provider unavailable", cause)
	default:
		return apperrors.NewProviderError(apperrors.CodeInvalidRequest, "places provider rejected the request", cause)
	}
}

func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
