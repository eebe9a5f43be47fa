package sesame

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream serves paged records per token until the configured
// total is drained, then an empty page. Each request's query is
// recorded for assertions.
type fakeUpstream struct {
	totals map[string]int // token -> record count per listing

	mu       sync.Mutex
	requests []url.Values
}

func (f *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Query())
		f.mu.Unlock()

		token := r.Header.Get("Authorization")
		total, ok := f.totals[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		start := (page - 1) * limit
		var data []map[string]any
		for i := start; i < total && i < start+limit; i++ {
			id := fmt.Sprintf("%s-%d", token, i)
			if status := r.URL.Query().Get("status"); status != "" {
				id = fmt.Sprintf("%s-%s-%d", token, status, i)
			}
			data = append(data, map[string]any{
				"id":   id,
				"from": r.URL.Query().Get("from"),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
}

func (f *fakeUpstream) queryValues(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, q := range f.requests {
		out = append(out, q.Get(key))
	}
	return out
}

func newTestClient(t *testing.T, totals map[string]int, accounts []Account) (*Client, *fakeUpstream) {
	t.Helper()
	upstream := &fakeUpstream{totals: totals}
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:  srv.URL,
		Accounts: accounts,
		Sleep:    func(ctx context.Context, d time.Duration) error { return nil },
	}, nil)
	return c, upstream
}

func TestEmployeesDrainsAllPagesPerAccount(t *testing.T) {
	c, _ := newTestClient(t,
		map[string]int{"Bearer tok-a": 120, "Bearer tok-b": 3},
		[]Account{{Name: "alpha", Token: "tok-a"}, {Name: "beta", Token: "tok-b"}},
	)

	records, err := c.Employees(context.Background(), 0)
	require.NoError(t, err)
	// 123 active plus 123 inactive.
	require.Len(t, records, 246)
	// Account order is preserved within each status: alpha's first.
	assert.Equal(t, "Bearer tok-a-active-0", records[0]["id"])
	assert.Equal(t, "Bearer tok-b-active-2", records[122]["id"])
	assert.Equal(t, "Bearer tok-b-inactive-2", records[245]["id"])
}

func TestEmployeesRequestsActiveThenInactive(t *testing.T) {
	c, upstream := newTestClient(t,
		map[string]int{"Bearer tok-a": 1},
		[]Account{{Name: "alpha", Token: "tok-a"}},
	)

	_, err := c.Employees(context.Background(), 0)
	require.NoError(t, err)
	// Two requests per status: the data page and the terminating empty
	// page.
	assert.Equal(t, []string{"active", "active", "inactive", "inactive"},
		upstream.queryValues("status"))
}

func TestEmployeesEmptyAccountYieldsNoRecords(t *testing.T) {
	c, _ := newTestClient(t,
		map[string]int{"Bearer tok-a": 0},
		[]Account{{Name: "alpha", Token: "tok-a"}},
	)

	records, err := c.Employees(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProjectsSinglePageFetchesOnlyThatPage(t *testing.T) {
	c, upstream := newTestClient(t,
		map[string]int{"Bearer tok-a": 120},
		[]Account{{Name: "alpha", Token: "tok-a"}},
	)

	records, err := c.Projects(context.Background(), 2)
	require.NoError(t, err)
	// Page 2 of 120 records at the default page size of 100.
	require.Len(t, records, 20)
	assert.Equal(t, "Bearer tok-a-100", records[0]["id"])
	assert.Equal(t, []string{"2"}, upstream.queryValues("page"))
}

func TestTimeEntriesCarriesWindow(t *testing.T) {
	c, _ := newTestClient(t,
		map[string]int{"Bearer tok-a": 2},
		[]Account{{Name: "alpha", Token: "tok-a"}},
	)

	w := Window{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	records, err := c.TimeEntries(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2024-01-01", records[0]["from"])
}

func TestTimeEntriesWindowPageFetchesOnlyThatPage(t *testing.T) {
	c, upstream := newTestClient(t,
		map[string]int{"Bearer tok-a": 150},
		[]Account{{Name: "alpha", Token: "tok-a"}},
	)

	w := Window{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Page: 2,
	}
	records, err := c.TimeEntries(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, records, 50)
	assert.Equal(t, []string{"2"}, upstream.queryValues("page"))
	assert.Equal(t, []string{"2024-01-01"}, upstream.queryValues("from"))
}

func TestBadTokenSurfacesError(t *testing.T) {
	srv := httptest.NewServer((&fakeUpstream{totals: map[string]int{}}).handler())
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:     srv.URL,
		Accounts:    []Account{{Name: "alpha", Token: "wrong"}},
		MaxAttempts: 2,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}, nil)

	_, err := c.Employees(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account alpha")
}
