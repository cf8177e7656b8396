package paynestsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server, *int) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("PAYNEST_API_BASE_URL", srv.URL)
	t.Setenv("PAYNEST_API_KEY", "test-key")

	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	sleeps := 0
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return ctx.Err()
	}
	return client, srv, &sleeps
}

func pageJSON(items ...map[string]interface{}) []byte {
	if items == nil {
		items = []map[string]interface{}{}
	}
	b, _ := json.Marshal(map[string]interface{}{"items": items})
	return b
}

func identityMapper(doc RemoteDocument) (RemoteDocument, error) {
	return doc, nil
}

func TestFetchAllPages_EmptyPageTerminates(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "2")

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			w.Write(pageJSON(
				map[string]interface{}{"id": "a1"},
				map[string]interface{}{"id": "a2"},
			))
		case 2:
			w.Write(pageJSON(
				map[string]interface{}{"id": "b1"},
				map[string]interface{}{"id": "b2"},
			))
		default:
			w.Write(pageJSON())
		}
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	items, err := FetchAllPages(context.Background(), client, rc, "/export/properties", nil, identityMapper)
	if err != nil {
		t.Fatalf("FetchAllPages: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items from pages 1-2, got %d", len(items))
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
}

func TestFetchAllPages_InterCallDelays(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "2")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page <= 3 {
			w.Write(pageJSON(
				map[string]interface{}{"id": fmt.Sprintf("p%d-1", page)},
				map[string]interface{}{"id": fmt.Sprintf("p%d-2", page)},
			))
			return
		}
		w.Write(pageJSON())
	})

	client, _, sleeps := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	if _, err := FetchAllPages(context.Background(), client, rc, "/export/tenants", nil, identityMapper); err != nil {
		t.Fatalf("FetchAllPages: %v", err)
	}
	// 4 fetches (3 full pages + trailing empty) means 3 inter-call delays,
	// none before the first call.
	if *sleeps != 3 {
		t.Fatalf("expected 3 inter-call delays, got %d", *sleeps)
	}
}

func TestFetchAllPages_PaginationMetadataStops(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "2")

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		body := map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": fmt.Sprintf("x%d-1", page)},
				{"id": fmt.Sprintf("x%d-2", page)},
			},
			"pagination": map[string]interface{}{
				"page":        page,
				"total_pages": 2,
				"total":       4,
			},
		}
		b, _ := json.Marshal(body)
		w.Write(b)
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	items, err := FetchAllPages(context.Background(), client, rc, "/export/beneficiaries", nil, identityMapper)
	if err != nil {
		t.Fatalf("FetchAllPages: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	// Metadata says 2 pages total, so the full second page must not trigger
	// a third fetch.
	if calls != 2 {
		t.Fatalf("expected 2 calls with pagination metadata, got %d", calls)
	}
}

func TestFetchAllPages_ShortPageHeuristic(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "3")

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(pageJSON(map[string]interface{}{"id": "only"}))
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	items, err := FetchAllPages(context.Background(), client, rc, "/export/invoices", nil, identityMapper)
	if err != nil {
		t.Fatalf("FetchAllPages: %v", err)
	}
	if len(items) != 1 || calls != 1 {
		t.Fatalf("short page should stop immediately: items=%d calls=%d", len(items), calls)
	}
}

func TestFetchAllPages_NotFoundEndsEndpoint(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "1")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 1 {
			w.Write(pageJSON(map[string]interface{}{"id": "first"}))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	items, err := FetchAllPages(context.Background(), client, rc, "/export/owners", nil, identityMapper)
	if err != nil {
		t.Fatalf("404 must end pagination, not fail it: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected the page-1 item, got %d items", len(items))
	}
}

func TestFetchAllPages_AuthErrorAborts(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	_, err := FetchAllPages(context.Background(), client, rc, "/export/properties", nil, identityMapper)
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !IsAuthError(err) {
		t.Fatalf("expected 401 to classify as auth error, got %v", err)
	}
}

func TestFetchAllPages_SpeculativeAdvanceOnServerError(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "1")

	var pagesSeen []int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pagesSeen = append(pagesSeen, page)
		switch page {
		case 1:
			w.Write(pageJSON(map[string]interface{}{"id": "one"}))
		case 2:
			w.WriteHeader(http.StatusInternalServerError)
		case 3:
			w.Write(pageJSON(map[string]interface{}{"id": "three"}))
		default:
			w.Write(pageJSON())
		}
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	items, err := FetchAllPages(context.Background(), client, rc, "/export/tenants", nil, identityMapper)
	if err != nil {
		t.Fatalf("FetchAllPages: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected items from pages 1 and 3, got %d", len(items))
	}
	if len(pagesSeen) < 3 || pagesSeen[2] != 3 {
		t.Fatalf("expected fetch to advance past the failing page, saw %v", pagesSeen)
	}
}

func TestFetchAllPages_MapperFailureCountedNotFatal(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "3")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			w.Write(pageJSON())
			return
		}
		w.Write(pageJSON(
			map[string]interface{}{"id": "good-1"},
			map[string]interface{}{"name": "no id"},
			map[string]interface{}{"id": "good-2"},
		))
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", true, 10)

	items, err := FetchAllPages(context.Background(), client, rc, "/export/properties", nil, documentMapper)
	if err != nil {
		t.Fatalf("FetchAllPages: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 mapped items, got %d", len(items))
	}
	_, _, mapperErrors, samples := rc.Stats()
	if mapperErrors != 1 {
		t.Fatalf("expected 1 mapper error, got %d", mapperErrors)
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 debug sample, got %d", len(samples))
	}
}

func TestFetchAllPages_ItemsUnderAlternateKeys(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "5")

	for _, key := range []string{"data", "tickets", "categories"} {
		key := key
		t.Run(key, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body := map[string]interface{}{
					key: []map[string]interface{}{{"id": "k1"}},
				}
				b, _ := json.Marshal(body)
				w.Write(b)
			})

			client, _, _ := newTestClient(t, handler)
			rc := NewRunContext(1, "test", false, 10)

			items, err := FetchAllPages(context.Background(), client, rc, "/export/maintenance", nil, identityMapper)
			if err != nil {
				t.Fatalf("FetchAllPages: %v", err)
			}
			if len(items) != 1 {
				t.Fatalf("expected 1 item under key %q, got %d", key, len(items))
			}
		})
	}
}

func TestFetchHistoricalPages_WindowsCoverHorizon(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "5")
	t.Setenv("PAYNEST_HISTORY_YEARS", "1")

	var ranges [][2]string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranges = append(ranges, [2]string{r.URL.Query().Get("from_date"), r.URL.Query().Get("to_date")})
		w.Write(pageJSON(map[string]interface{}{"id": fmt.Sprintf("h%d", len(ranges))}))
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	items, err := FetchHistoricalPages(context.Background(), client, rc, "/report/icdn", 1, identityMapper)
	if err != nil {
		t.Fatalf("FetchHistoricalPages: %v", err)
	}
	// One year in 93-day windows: 4 chunks.
	if len(ranges) != 4 {
		t.Fatalf("expected 4 windows for a 1-year horizon, got %d: %v", len(ranges), ranges)
	}
	if len(items) != 4 {
		t.Fatalf("expected one item per window, got %d", len(items))
	}
	for i, rng := range ranges {
		from, err := time.Parse("2006-01-02", rng[0])
		if err != nil {
			t.Fatalf("window %d from_date: %v", i, err)
		}
		to, err := time.Parse("2006-01-02", rng[1])
		if err != nil {
			t.Fatalf("window %d to_date: %v", i, err)
		}
		if to.Sub(from) > 93*24*time.Hour {
			t.Fatalf("window %d wider than 93 days: %s..%s", i, rng[0], rng[1])
		}
	}
}

func TestFetchHistoricalPages_AllPaymentsUsesNarrowWindows(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "5")

	var ranges [][2]string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranges = append(ranges, [2]string{r.URL.Query().Get("from_date"), r.URL.Query().Get("to_date")})
		w.Write(pageJSON())
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	_, err := FetchHistoricalPages(context.Background(), client, rc, "/report/all-payments", 1, identityMapper)
	if err != nil {
		t.Fatalf("FetchHistoricalPages: %v", err)
	}
	if len(ranges) == 0 {
		t.Fatal("expected at least one window")
	}
	for i, rng := range ranges {
		from, _ := time.Parse("2006-01-02", rng[0])
		to, _ := time.Parse("2006-01-02", rng[1])
		if to.Sub(from) > 14*24*time.Hour {
			t.Fatalf("window %d wider than 14 days: %s..%s", i, rng[0], rng[1])
		}
	}
}

func TestFetchHistoricalPages_CancellationStopsBetweenChunks(t *testing.T) {
	t.Setenv("PAYNEST_PAGE_SIZE", "5")

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(pageJSON())
	})

	client, _, _ := newTestClient(t, handler)
	rc := NewRunContext(1, "test", false, 10)

	ctx, cancel := context.WithCancel(context.Background())
	chunksDone := 0
	client.sleep = func(ctx context.Context, d time.Duration) error {
		chunksDone++
		if chunksDone >= 2 {
			cancel()
		}
		return ctx.Err()
	}

	_, err := FetchHistoricalPages(ctx, client, rc, "/report/icdn", 2, identityMapper)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if calls >= 8 {
		t.Fatalf("cancellation should stop the walk early, made %d calls", calls)
	}
}
