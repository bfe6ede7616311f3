package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/resilience"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.websiteUri")

		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "歯科 渋谷", body.TextQuery)
		require.NotNil(t, body.LocationBias)
		assert.InDelta(t, 35.658, body.LocationBias.Circle.Center.Latitude, 0.001)
		assert.InDelta(t, 1500.0, body.LocationBias.Circle.Radius, 0.1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{
			Places: []Place{{
				ID:                  "ChIJabc",
				DisplayName:         DisplayName{Text: "渋谷デンタル"},
				WebsiteURI:          "https://shibuya-dental.jp/",
				NationalPhoneNumber: "03-1234-5678",
			}},
			NextPageToken: "next",
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(0))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{
		Query:        "歯科 渋谷",
		Center:       &LatLng{Latitude: 35.658, Longitude: 139.7016},
		RadiusMeters: 1500,
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "ChIJabc", resp.Places[0].ID)
	assert.Equal(t, "https://shibuya-dental.jp/", resp.Places[0].WebsiteURI)
	assert.Equal(t, "next", resp.NextPageToken)
}

func TestTextSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL), WithRateLimit(0))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "test"})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "403")
}

func TestPlaceDetails_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/places/ChIJabc", r.URL.Path)
		assert.Equal(t, detailFieldMask, r.Header.Get("X-Goog-FieldMask"))
		_, _ = w.Write([]byte(`{"id":"ChIJabc","websiteUri":"https://x.jp","nationalPhoneNumber":"03-1111-2222","internationalPhoneNumber":"+81 3-1111-2222"}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))
	d, err := client.PlaceDetails(context.Background(), "ChIJabc")
	require.NoError(t, err)
	assert.Equal(t, "https://x.jp", d.WebsiteURI)
	assert.Equal(t, "+81 3-1111-2222", d.Phone())
}

func TestPlaceDetails_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := client.PlaceDetails(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
}

func TestPlaceDetails_EmptyID(t *testing.T) {
	client := NewClient("k")
	_, err := client.PlaceDetails(context.Background(), "")
	assert.Error(t, err)
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))

	t.Run("deadline while waiting", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		resp, err := client.TextSearch(ctx, TextSearchRequest{Query: "slow"})
		assert.Error(t, err)
		assert.Nil(t, resp)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("cancelled before the call", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		resp, err := client.TextSearch(ctx, TextSearchRequest{Query: "slow"})
		assert.Error(t, err)
		assert.Nil(t, resp)
	})
}
