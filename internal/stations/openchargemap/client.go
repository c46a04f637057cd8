// Package openchargemap provides a client for the OpenChargeMap POI API.
package openchargemap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clrevo/clrevo/internal/provider/resilience"
	"github.com/clrevo/clrevo/internal/stations"
)

const (
	// ProviderName identifies this station directory.
	ProviderName = "openchargemap"

	// DefaultBaseURL is the OpenChargeMap API base URL.
	DefaultBaseURL = "https://api.openchargemap.io/v3"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OpenChargeMap client.
type ClientConfig struct {
	// APIKey is the OpenChargeMap API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to OpenChargeMap v3).
	BaseURL string

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

// Client is an OpenChargeMap API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new OpenChargeMap client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Nearby returns normalized stations around the query center in provider order.
func (c *Client) Nearby(ctx context.Context, q stations.Query) ([]stations.Station, error) {
	params := url.Values{}
	params.Set("output", "json")
	params.Set("countrycode", q.CountryCode)
	params.Set("latitude", strconv.FormatFloat(q.Center.Lat, 'f', 6, 64))
	params.Set("longitude", strconv.FormatFloat(q.Center.Lon, 'f', 6, 64))
	params.Set("distance", strconv.FormatFloat(q.RadiusMiles, 'f', -1, 64))
	params.Set("distanceunit", "miles")
	params.Set("maxresults", strconv.Itoa(q.MaxResults))
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/poi/?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Float64("lat", q.Center.Lat).
		Float64("lon", q.Center.Lon).
		Float64("radius_miles", q.RadiusMiles).
		Int("max_results", q.MaxResults).
		Msg("requesting stations from openchargemap")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &stations.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach station directory",
			Err:      fmt.Errorf("%w: %v", stations.ErrServiceError, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &stations.Error{
			Provider: ProviderName,
			Code:     "READ_FAILED",
			Message:  "failed to read station directory response",
			Err:      fmt.Errorf("%w: %v", stations.ErrServiceError, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode)
	}

	var records []poi
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &stations.Error{
			Provider: ProviderName,
			Code:     "DECODE_FAILED",
			Message:  "failed to decode station directory response",
			Err:      fmt.Errorf("%w: %v", stations.ErrServiceError, err),
		}
	}

	result := make([]stations.Station, 0, len(records))
	for i := range records {
		st, err := normalize(&records[i])
		if err != nil {
			return nil, &stations.Error{
				Provider: ProviderName,
				Code:     "INVALID_RECORD",
				Message:  fmt.Sprintf("record %d: %v", i, err),
				Err:      stations.ErrServiceError,
			}
		}
		result = append(result, st)
	}

	c.logger.Debug().
		Int("station_count", len(result)).
		Msg("received stations from openchargemap")

	return result, nil
}

var errMissingID = errors.New("missing ID")

// normalize applies the directory's defaulting rules to one record.
func normalize(p *poi) (stations.Station, error) {
	if p.ID == nil {
		return stations.Station{}, errMissingID
	}

	st := stations.Station{
		ID:             strconv.FormatInt(*p.ID, 10),
		Name:           stations.DefaultStationName,
		ConnectorTypes: []string{},
		Status:         stations.StatusUnknown,
		Network:        stations.DefaultNetworkName,
	}

	a := p.AddressInfo
	if a == nil {
		a = &addressInfo{}
	}
	if title := str(a.Title); title != "" {
		st.Name = title
	}
	// Empty parts are kept so the comma layout stays fixed.
	st.Address = strings.TrimSpace(str(a.AddressLine1) + ", " + str(a.Town) + ", " + str(a.StateOrProvince))
	if a.Latitude != nil {
		st.Coordinate.Lat = *a.Latitude
	}
	if a.Longitude != nil {
		st.Coordinate.Lon = *a.Longitude
	}

	for _, conn := range p.Connections {
		if conn.ConnectionType == nil {
			continue
		}
		if title := str(conn.ConnectionType.Title); title != "" {
			st.ConnectorTypes = append(st.ConnectorTypes, title)
		}
	}

	if len(p.Connections) > 0 {
		if kw := p.Connections[0].PowerKW; kw != nil && *kw != 0 {
			power := *kw
			st.PowerKW = &power
		}
	}

	if p.StatusType != nil && p.StatusType.IsOperational != nil && *p.StatusType.IsOperational {
		st.Status = stations.StatusAvailable
	}

	if p.OperatorInfo != nil {
		if title := str(p.OperatorInfo.Title); title != "" {
			st.Network = title
		}
	}

	return st, nil
}

// handleErrorResponse maps non-2xx responses to domain errors.
func handleErrorResponse(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &stations.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  "station directory rate limit exceeded, please try again later",
			Err:      stations.ErrRateLimitExceeded,
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &stations.Error{
			Provider: ProviderName,
			Code:     "FORBIDDEN",
			Message:  "station directory access denied - check API key configuration",
			Err:      stations.ErrServiceError,
		}
	case statusCode >= 500:
		return &stations.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  "station directory is temporarily unavailable",
			Err:      stations.ErrServiceError,
		}
	default:
		return &stations.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  fmt.Sprintf("station directory returned status %d", statusCode),
			Err:      stations.ErrServiceError,
		}
	}
}
