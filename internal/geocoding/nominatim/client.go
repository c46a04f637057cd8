// Package nominatim provides a client for the OpenStreetMap Nominatim geocoding API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/geo"
	"github.com/clrevo/clrevo/internal/geocoding"
	"github.com/clrevo/clrevo/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim API base URL.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultCountryCodes restricts searches to the United States.
	DefaultCountryCodes = "us"

	// DefaultUserAgent identifies the application as required by the Nominatim usage policy.
	DefaultUserAgent = "clrevo-locator/1.0"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second

	// reverseZoom requests city-level detail for reverse lookups.
	reverseZoom = "10"
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Nominatim client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the public instance).
	BaseURL string

	// CountryCodes limits search results (optional, defaults to "us").
	CountryCodes string

	// UserAgent is sent with every request (optional).
	UserAgent string

	// Email is passed to Nominatim for contact on heavy use (optional).
	Email string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Nominatim API client.
type Client struct {
	baseURL      string
	countryCodes string
	userAgent    string
	email        string
	httpClient   HTTPDoer
	logger       zerolog.Logger
}

// NewClient creates a new Nominatim client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	countryCodes := cfg.CountryCodes
	if countryCodes == "" {
		countryCodes = DefaultCountryCodes
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.Registry = cfg.Registry
		clientCfg.UserAgent = userAgent
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:      baseURL,
		countryCodes: countryCodes,
		userAgent:    userAgent,
		email:        cfg.Email,
		httpClient:   httpClient,
		logger:       cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Search geocodes a postal code, returning at most one match.
func (c *Client) Search(ctx context.Context, postalCode string) ([]geocoding.Match, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", postalCode)
	params.Set("countrycodes", c.countryCodes)
	params.Set("limit", "1")
	if c.email != "" {
		params.Set("email", c.email)
	}

	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var results []searchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, &geocoding.Error{
			Provider: ProviderName,
			Code:     "DECODE_FAILED",
			Message:  "failed to decode search response",
			Err:      fmt.Errorf("%w: %v", geocoding.ErrServiceError, err),
		}
	}

	matches := make([]geocoding.Match, 0, len(results))
	for _, r := range results {
		coord, err := r.coordinate()
		if err != nil {
			return nil, &geocoding.Error{
				Provider: ProviderName,
				Code:     "PARSE_FAILED",
				Message:  "failed to parse match coordinates",
				Err:      fmt.Errorf("%w: %v", geocoding.ErrServiceError, err),
			}
		}
		matches = append(matches, geocoding.Match{
			Coordinate:  coord,
			DisplayName: r.DisplayName,
		})
	}

	c.logger.Debug().
		Str("postal_code", postalCode).
		Int("match_count", len(matches)).
		Msg("received search results from nominatim")

	return matches, nil
}

// Reverse returns address details for a coordinate.
func (c *Client) Reverse(ctx context.Context, coord geo.Coordinate) (*geocoding.Address, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", strconv.FormatFloat(coord.Lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(coord.Lon, 'f', 6, 64))
	params.Set("zoom", reverseZoom)
	params.Set("addressdetails", "1")
	if c.email != "" {
		params.Set("email", c.email)
	}

	body, err := c.get(ctx, "/reverse", params)
	if err != nil {
		return nil, err
	}

	var result reverseResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &geocoding.Error{
			Provider: ProviderName,
			Code:     "DECODE_FAILED",
			Message:  "failed to decode reverse response",
			Err:      fmt.Errorf("%w: %v", geocoding.ErrServiceError, err),
		}
	}

	// Nominatim answers 200 with an error field for points it cannot resolve (open sea).
	if result.Error != "" {
		return nil, &geocoding.Error{
			Provider: ProviderName,
			Code:     "NO_MATCH",
			Message:  result.Error,
			Err:      geocoding.ErrNotFound,
		}
	}

	return &geocoding.Address{
		City:        result.Address.City,
		Town:        result.Address.Town,
		Village:     result.Address.Village,
		County:      result.Address.County,
		State:       result.Address.State,
		DisplayName: result.DisplayName,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &geocoding.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach geocoding provider",
			Err:      fmt.Errorf("%w: %v", geocoding.ErrServiceError, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &geocoding.Error{
			Provider: ProviderName,
			Code:     "READ_FAILED",
			Message:  "failed to read geocoding response",
			Err:      fmt.Errorf("%w: %v", geocoding.ErrServiceError, err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode)
	}

	return body, nil
}

// handleErrorResponse maps non-200 responses to domain errors.
func handleErrorResponse(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  "geocoding rate limit exceeded, please try again later",
			Err:      geocoding.ErrRateLimitExceeded,
		}
	case statusCode == http.StatusForbidden:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     "FORBIDDEN",
			Message:  "geocoding access denied - check user agent configuration",
			Err:      geocoding.ErrServiceError,
		}
	case statusCode >= 500:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  "geocoding provider is temporarily unavailable",
			Err:      geocoding.ErrServiceError,
		}
	default:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  fmt.Sprintf("geocoding provider returned status %d", statusCode),
			Err:      geocoding.ErrServiceError,
		}
	}
}

// searchResult is one element of the /search response. Coordinates arrive as strings.
type searchResult struct {
	PlaceID     int64  `json:"place_id"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

func (r searchResult) coordinate() (geo.Coordinate, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("parsing lat %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("parsing lon %q: %w", r.Lon, err)
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, err
	}
	return c, nil
}

type reverseResult struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
		State   string `json:"state"`
	} `json:"address"`
}
