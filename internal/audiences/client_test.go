package audiences

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficai/internal/retry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-key", zerolog.Nop())
	// Tight retry budget so failure tests stay fast
	client.retry = retry.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
	return client, server
}

func TestSearchSendsAuthAndDecodes(t *testing.T) {
	var gotAuth string
	var gotQuery SearchQuery

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/people/search", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))

		name := "Ada Lovelace"
		json.NewEncoder(w).Encode(SearchResult{
			People: []Person{{Email: "ada@example.com", FullName: &name}},
			Total:  1,
		})
	}))

	result, err := client.Search(context.Background(), SearchQuery{Company: "Analytical Engines", Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "Analytical Engines", gotQuery.Company)
	require.Len(t, result.People, 1)
	assert.Equal(t, "ada@example.com", result.People[0].Email)
	assert.Equal(t, 1, result.Total)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(SearchResult{People: []Person{}, Total: 0})
	}))

	_, err := client.Search(context.Background(), SearchQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "5xx responses should be retried")
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad filter"}`))
	}))

	_, err := client.Search(context.Background(), SearchQuery{})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx responses must not be retried")
}

func TestSearchInsufficientCredits(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))

	_, err := client.Search(context.Background(), SearchQuery{})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestEnrichMissingPerson(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/people/enrich", r.URL.Path)
		w.Write([]byte(`{"person": null}`))
	}))

	person, err := client.Enrich(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, person)
}

func TestCredits(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/credits", r.URL.Path)
		json.NewEncoder(w).Encode(Credits{Remaining: 42, Total: 100})
	}))

	credits, err := client.Credits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, credits.Remaining)
	assert.Equal(t, 100, credits.Total)
}

func TestSegmentOperations(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/segments":
			w.Write([]byte(`{"segments": [{"id": "seg_1", "name": "Founders", "size": 12}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/segments":
			var req struct {
				Name   string      `json:"name"`
				Filter SearchQuery `json:"filter"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(Segment{ID: "seg_2", Name: req.Name, Filter: req.Filter})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/segments/seg_1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	segments, err := client.ListSegments(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "Founders", segments[0].Name)

	created, err := client.CreateSegment(context.Background(), "CTOs", SearchQuery{Title: "CTO"})
	require.NoError(t, err)
	assert.Equal(t, "seg_2", created.ID)
	assert.Equal(t, "CTO", created.Filter.Title)

	require.NoError(t, client.DeleteSegment(context.Background(), "seg_1"))
}
