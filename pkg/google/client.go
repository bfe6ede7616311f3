// Package google is a small Places API (New) client covering keyword text
// search and the place-detail lookup used as a contact fallback.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const (
	searchFieldMask = "places.id,places.displayName,places.formattedAddress,places.postalAddress," +
		"places.location,places.websiteUri,places.nationalPhoneNumber,places.internationalPhoneNumber,nextPageToken"
	detailFieldMask = "id,websiteUri,nationalPhoneNumber,internationalPhoneNumber"
)

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
	PlaceDetails(ctx context.Context, placeID string) (*PlaceDetail, error)
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TextSearchRequest is one keyword search biased to a circle.
type TextSearchRequest struct {
	Query        string
	Center       *LatLng
	RadiusMeters float64
	LanguageCode string
	PageToken    string
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken"`
}

// Place represents a place returned by text search.
type Place struct {
	ID                       string         `json:"id"`
	DisplayName              DisplayName    `json:"displayName"`
	FormattedAddress         string         `json:"formattedAddress"`
	PostalAddress            *PostalAddress `json:"postalAddress,omitempty"`
	Location                 *LatLng        `json:"location,omitempty"`
	WebsiteURI               string         `json:"websiteUri"`
	NationalPhoneNumber      string         `json:"nationalPhoneNumber"`
	InternationalPhoneNumber string         `json:"internationalPhoneNumber"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// PostalAddress is the structured address subset we read.
type PostalAddress struct {
	PostalCode         string `json:"postalCode"`
	AdministrativeArea string `json:"administrativeArea"`
	Locality           string `json:"locality"`
}

// PlaceDetail is the fallback lookup result: website and phone only.
type PlaceDetail struct {
	ID                       string `json:"id"`
	WebsiteURI               string `json:"websiteUri"`
	NationalPhoneNumber      string `json:"nationalPhoneNumber"`
	InternationalPhoneNumber string `json:"internationalPhoneNumber"`
}

// Phone returns the international number when present, else the national one.
func (d PlaceDetail) Phone() string {
	if d.InternationalPhoneNumber != "" {
		return d.InternationalPhoneNumber
	}
	return d.NationalPhoneNumber
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces requests to qps with a burst of 1. Zero disables pacing.
func WithRateLimit(qps float64) Option {
	return func(c *httpClient) {
		if qps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(qps), 1)
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type textSearchRequest struct {
	TextQuery    string        `json:"textQuery"`
	LanguageCode string        `json:"languageCode,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

func (c *httpClient) TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error) {
	body := textSearchRequest{
		TextQuery:    req.Query,
		LanguageCode: req.LanguageCode,
		PageToken:    req.PageToken,
	}
	if req.Center != nil && req.RadiusMeters > 0 {
		body.LocationBias = &locationBias{Circle: circle{Center: *req.Center, Radius: req.RadiusMeters}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	var result TextSearchResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/places:searchText", payload, searchFieldMask, &result); err != nil {
		return nil, eris.Wrap(err, "google: text search")
	}
	return &result, nil
}

func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*PlaceDetail, error) {
	if placeID == "" {
		return nil, eris.New("google: place details: empty place id")
	}
	var result PlaceDetail
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/places/"+url.PathEscape(placeID), nil, detailFieldMask, &result); err != nil {
		return nil, eris.Wrapf(err, "google: place details %s", placeID)
	}
	return &result, nil
}

func (c *httpClient) do(ctx context.Context, method, endpoint string, payload []byte, fieldMask string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.NewStatusError("google", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
