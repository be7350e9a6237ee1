package places

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/resilience"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.id")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "nextPageToken")

		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "plumbers in Springfield IL", body.TextQuery)
		assert.Equal(t, 20, body.PageSize)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{
			Places: []Place{
				{
					ID:                  "ChIJabc123",
					DisplayName:         DisplayName{Text: "Acme Plumbing"},
					NationalPhoneNumber: "(217) 555-0100",
					WebsiteURI:          "https://acmeplumbing.example",
					Rating:              4.5,
					UserRatingCount:     127,
					AddressComponents: []AddressComponent{
						{LongText: "Springfield", Types: []string{"locality", "political"}},
						{LongText: "Illinois", ShortText: "IL", Types: []string{"administrative_area_level_1", "political"}},
					},
				},
			},
			NextPageToken: "tok-2",
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "plumbers in Springfield IL"})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "ChIJabc123", resp.Places[0].ID)
	assert.Equal(t, "Acme Plumbing", resp.Places[0].DisplayName.Text)
	assert.Equal(t, "Springfield", resp.Places[0].City())
	assert.Equal(t, "IL", resp.Places[0].State())
	assert.Equal(t, "tok-2", resp.NextPageToken)
}

func TestTextSearch_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok-2", body.PageToken)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{
			Places: []Place{{ID: "ChIJdef456", DisplayName: DisplayName{Text: "Beta Plumbing"}}},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{
		Query:     "plumbers in Springfield IL",
		PageToken: "tok-2",
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Empty(t, resp.NextPageToken)
}

func TestTextSearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "anything"})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
}

func TestTextSearch_PermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid field mask"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "anything"})

	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "400")
}

func TestTextSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{Places: nil})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{Query: "nonexistent"})

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}
