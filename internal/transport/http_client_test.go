package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poslab/catsync/internal/config"
	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.APIConfig{
		BaseURL:    srv.URL,
		Token:      "test-token",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		UserAgent:  "catsync-test",
	}
	return NewHTTPClient(cfg, events.NewTestLogger(io.Discard))
}

func catalogListResponse(cursor string, objects ...string) string {
	raws := make([]json.RawMessage, len(objects))
	for i, o := range objects {
		raws[i] = json.RawMessage(o)
	}
	body, _ := json.Marshal(map[string]interface{}{
		"objects": raws,
		"cursor":  cursor,
	})
	return string(body)
}

func TestListCatalogPageFullWalk(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Contains(t, r.URL.RawQuery, "cursor=tok-1")

		_, _ = w.Write([]byte(catalogListResponse("tok-2",
			`{"type":"ITEM","id":"ITEM-1","version":1,"item_data":{"name":"Coffee"}}`,
			`{"type":"CATEGORY","id":"CAT-1","version":2,"category_data":{"name":"Drinks"}}`,
		)))
	}))

	page, err := client.ListCatalogPage(context.Background(), PageRequest{
		Cursor: "tok-1",
		Types:  models.CatalogTypes,
		Limit:  100,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v2/catalog/list", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "tok-2", page.Cursor)
	require.Len(t, page.Objects, 2)
	assert.Equal(t, "Coffee", page.Objects[0].Name)
	assert.Equal(t, models.TypeCategory, page.Objects[1].Type)
}

func TestListCatalogPageIncremental(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/catalog/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(catalogListResponse("")))
	}))

	_, err := client.ListCatalogPage(context.Background(), PageRequest{
		Types:     models.CatalogTypes,
		BeginTime: "2025-06-01T00:00:00Z",
		Limit:     50,
	})
	require.NoError(t, err)

	assert.Equal(t, "2025-06-01T00:00:00Z", gotBody["begin_time"])
	assert.Equal(t, true, gotBody["include_deleted_objects"])
	assert.NotContains(t, gotBody, "cursor")
}

func TestListCatalogPageKeepsMalformedSlot(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(catalogListResponse("",
			`{"type":"ITEM","id":"ITEM-1","version":1,"item_data":{"name":"Good"}}`,
			`{"version":9}`,
		)))
	}))

	page, err := client.ListCatalogPage(context.Background(), PageRequest{Types: models.CatalogTypes})
	require.NoError(t, err)

	// The bad record stays in the page as an invalid object so callers can
	// count it instead of silently losing it.
	require.Len(t, page.Objects, 2)
	assert.True(t, page.Objects[0].Valid())
	assert.False(t, page.Objects[1].Valid())
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(catalogListResponse("")))
	}))

	_, err := client.ListCatalogPage(context.Background(), PageRequest{Types: models.CatalogTypes})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.ListCatalogPage(context.Background(), PageRequest{Types: models.CatalogTypes})
	require.Error(t, err)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED","detail":"token expired"}]}`))
	}))

	_, err := client.ListCatalogPage(context.Background(), PageRequest{Types: models.CatalogTypes})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	assert.Equal(t, int32(1), calls.Load(), "auth failures must not retry")
}

func TestStatusErrorDecodesRemoteDetail(t *testing.T) {
	client := newTestClient(t, nil)

	err := client.statusError(http.StatusBadRequest,
		[]byte(`{"errors":[{"code":"INVALID_CURSOR","detail":"cursor expired"}]}`))

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_CURSOR", apiErr.Code)
	assert.Equal(t, "cursor expired", apiErr.Message)
	assert.False(t, apiErr.Retryable())
}

func TestListLocations(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/locations", r.URL.Path)
		_, _ = w.Write([]byte(`{"locations":[
			{"id":"LOC-1","name":"Main","status":"ACTIVE","updated_at":"2025-06-01T10:00:00Z"},
			{"id":"LOC-2","name":"Annex","status":"INACTIVE","updated_at":"2025-06-01T11:00:00Z"}
		]}`))
	}))

	locs, err := client.ListLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.True(t, locs[0].Active)
	assert.False(t, locs[1].Active)
}

func TestRetryHonorsContext(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	client.retryDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.ListCatalogPage(ctx, PageRequest{Types: models.CatalogTypes})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPageRequestTypesParam(t *testing.T) {
	req := PageRequest{Types: []models.ObjectType{models.TypeItem, models.TypeTax}}
	assert.Equal(t, "ITEM,TAX", req.typesParam())
}
