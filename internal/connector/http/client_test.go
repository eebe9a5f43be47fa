package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func testClient(baseURL string, maxAttempts int) *Client {
	cfg := DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.MaxAttempts = maxAttempts
	cfg.RateLimit = 10000
	cfg.RateBurst = 10000
	cfg.Sleep = noSleep
	return NewClient(cfg, nil)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 30)
	resp, err := c.Get(context.Background(), "/things", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoEmptyBodyCountsAsFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusOK) // 200 with no body
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 30)
	resp, err := c.Get(context.Background(), "/things", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.JSONEq(t, `{"data":[]}`, string(resp.Body))
}

func TestDoExhaustionReturnsUpstreamUnavailable(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 4)
	_, err := c.Get(context.Background(), "/things", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, 4, calls)
}

func TestDoBackoffGrowsFromOneSecond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var waits []time.Duration
	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxAttempts = 4
	cfg.RateLimit = 10000
	cfg.RateBurst = 10000
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	c := NewClient(cfg, nil)

	_, err := c.Get(context.Background(), "/things", nil)
	require.Error(t, err)
	// First retry waits base^0, then base^1, base^2.
	assert.Equal(t, []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}, waits)
}

func TestBearerAuthApplied(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Auth = BearerToken{Token: "sekrit"}
	cfg.Sleep = noSleep
	c := NewClient(cfg, nil)

	_, err := c.Get(context.Background(), "/me", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sekrit", got)
}

func TestBasicAuthApplied(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	BasicAuth{Username: "svc", Password: "hunter2"}.Apply(req)
	assert.Equal(t, "Basic c3ZjOmh1bnRlcjI=", req.Header.Get("Authorization"))

	empty, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	BasicAuth{}.Apply(empty)
	assert.Empty(t, empty.Header.Get("Authorization"))
}

func TestAPIKeyAuthApplied(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	APIKey{Key: "k-123"}.Apply(req)
	assert.Equal(t, "k-123", req.Header.Get("X-API-Key"))

	custom, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	APIKey{Key: "k-456", Header: "X-Auth"}.Apply(custom)
	assert.Equal(t, "k-456", custom.Header.Get("X-Auth"))
}

func TestPagePaginatorStopsOnEmptyPage(t *testing.T) {
	pages := map[string]string{
		"1": `{"data":[{"id":"a"},{"id":"b"}]}`,
		"2": `{"data":[{"id":"c"}]}`,
		"3": `{"data":[]}`,
	}
	var seenLimits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenLimits = append(seenLimits, r.URL.Query().Get("limit"))
		w.Write([]byte(pages[r.URL.Query().Get("page")]))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 30)
	p := NewPagePaginator("/items", 100, url.Values{"from": {"2024-01-01"}})

	ids, err := FetchAllPages(context.Background(), c, p, func(resp *Response) ([]string, error) {
		var envelope struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := resp.JSON(&envelope); err != nil {
			return nil, err
		}
		out := make([]string, 0, len(envelope.Data))
		for _, d := range envelope.Data {
			out = append(out, d.ID)
		}
		return out, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, []string{"100", "100", "100"}, seenLimits)
}

func TestFetchOnePageRequestsOnlyThatPage(t *testing.T) {
	var seenPages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPages = append(seenPages, r.URL.Query().Get("page"))
		w.Write([]byte(`{"data":[{"id":"x"},{"id":"y"}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 30)
	p := NewPagePaginator("/items", 100, nil).Seek(3)

	ids, err := FetchOnePage(context.Background(), c, p, func(resp *Response) ([]string, error) {
		var envelope struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := resp.JSON(&envelope); err != nil {
			return nil, err
		}
		out := make([]string, 0, len(envelope.Data))
		for _, d := range envelope.Data {
			out = append(out, d.ID)
		}
		return out, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids)
	// A non-empty page does not trigger a follow-up request.
	assert.Equal(t, []string{"3"}, seenPages)
}
