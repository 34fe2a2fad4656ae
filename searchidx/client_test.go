package searchidx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		Endpoint:     server.URL,
		AppID:        "TESTAPP",
		APIKey:       "test-key",
		Index:        "products",
		PollInterval: time.Millisecond,
	})
}

func TestGetExisting(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/1/indexes/*/objects", r.URL.Path)
		require.Equal(t, "TESTAPP", r.Header.Get("X-Algolia-Application-Id"))
		require.Equal(t, "test-key", r.Header.Get("X-Algolia-API-Key"))

		var req struct {
			Requests []objectRequest `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 2)
		require.Equal(t, "products", req.Requests[0].IndexName)

		// The second id has no stored record, so its result slot is null.
		fmt.Fprint(w, `{"results": [{"objectID": "1", "name": "Catalog", "price": 0}, null]}`)
	}))

	existing, err := client.GetExisting(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, existing, 1)
	require.Equal(t, "Catalog", existing["1"]["name"])
	require.Equal(t, 0.0, existing["1"]["price"])
}

func TestGetExistingEmpty(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for an empty id list")
	}))

	existing, err := client.GetExisting(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, existing)
}

func TestUpsertWaitsForPublish(t *testing.T) {
	t.Parallel()

	var polls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/1/indexes/products/batch":
			var req struct {
				Requests []batchAction `json:"requests"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Requests, 2)
			require.Equal(t, "updateObject", req.Requests[0].Action)
			require.Equal(t, "1", req.Requests[0].Body["objectID"])
			fmt.Fprint(w, `{"taskID": 42}`)
		case "/1/indexes/products/task/42":
			if atomic.AddInt32(&polls, 1) < 3 {
				fmt.Fprint(w, `{"status": "notPublished"}`)
			} else {
				fmt.Fprint(w, `{"status": "published"}`)
			}
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	err := client.Upsert(context.Background(), []map[string]interface{}{
		{"objectID": "1", "name": "Catalog"},
		{"objectID": "2", "name": "Fresh"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&polls), "upsert should poll until published")
}

func TestUpsertEmpty(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for an empty batch")
	}))
	require.NoError(t, client.Upsert(context.Background(), nil))
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message": "Invalid Application-ID or API key"}`)
	}))

	err := client.Upsert(context.Background(), []map[string]interface{}{{"objectID": "1"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
	require.Contains(t, err.Error(), "Invalid Application-ID")
}

func TestWaitTaskHonorsContext(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "notPublished"}`)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.WaitTask(ctx, 7)
	require.Error(t, err)
	require.Contains(t, err.Error(), context.DeadlineExceeded.Error())
}

func TestDerivedEndpoint(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{AppID: "MYAPP", APIKey: "k", Index: "products"})
	require.Equal(t, "https://MYAPP.algolia.net", client.endpoint)
}
