package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avolkov/zencache/internal/schema"
	"github.com/avolkov/zencache/internal/store"
)

func testEngine(t *testing.T, cache Cache, url string) *Engine {
	t.Helper()
	return New(cache, Config{
		APIURL: url,
		Token:  "test-token",
		Logger: quietLogger(),
	})
}

func TestSync_FullThenIncremental(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	var requests []diffRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}

		var req diffRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		switch len(requests) {
		case 1:
			// Full sync: reference data plus one transaction.
			fmt.Fprint(w, `{
				"serverTimestamp": 1000,
				"instrument": [{"id": 2, "title": "USD", "rate": 1}],
				"user": [{"id": 1, "login": "me", "currency": 2}],
				"account": [{"id": "a1", "title": "Cash", "type": "cash", "instrument": 2}],
				"transaction": [{"id": "t1", "date": "2024-03-01", "outcome": 10, "outcomeAccount": "a1"}]
			}`)
		default:
			// Incremental: one update, one deletion.
			fmt.Fprint(w, `{
				"serverTimestamp": 2000,
				"transaction": [{"id": "t2", "date": "2024-03-02", "outcome": 5, "outcomeAccount": "a1"}],
				"deletion": [{"object": "transaction", "id": "t1"}]
			}`)
		}
	}))
	defer server.Close()

	engine := testEngine(t, cache, server.URL)

	res, err := engine.Sync(ctx, false)
	if err != nil {
		t.Fatalf("full sync: %v", err)
	}
	if res.NewWatermark != 1000 {
		t.Errorf("watermark after full sync = %d, want 1000", res.NewWatermark)
	}
	if res.Updated["transactions"] != 1 || res.Updated["accounts"] != 1 {
		t.Errorf("updated = %v", res.Updated)
	}
	if requests[0].ServerTimestamp != 0 {
		t.Errorf("first request sent serverTimestamp=%d, want 0", requests[0].ServerTimestamp)
	}

	res, err = engine.Sync(ctx, false)
	if err != nil {
		t.Fatalf("incremental sync: %v", err)
	}
	if requests[1].ServerTimestamp != 1000 {
		t.Errorf("incremental request sent serverTimestamp=%d, want 1000", requests[1].ServerTimestamp)
	}
	if res.NewWatermark != 2000 {
		t.Errorf("watermark = %d, want 2000", res.NewWatermark)
	}
	if res.Deleted["transactions"] != 1 {
		t.Errorf("deleted = %v, want transactions:1", res.Deleted)
	}

	// t1 was created by the full sync and deleted by the incremental one.
	txs, err := cache.TransactionsBetween(ctx, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0].ID != "t2" {
		t.Errorf("cache holds %+v, want only t2", txs)
	}
}

func TestSync_ForceFullIgnoresWatermark(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	if err := cache.SetWatermark(ctx, 5555); err != nil {
		t.Fatal(err)
	}

	var gotTS int64 = -1
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req diffRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotTS = req.ServerTimestamp
		fmt.Fprint(w, `{"serverTimestamp": 6000}`)
	}))
	defer server.Close()

	if _, err := testEngine(t, cache, server.URL).Sync(ctx, true); err != nil {
		t.Fatal(err)
	}
	if gotTS != 0 {
		t.Errorf("forceFull sent serverTimestamp=%d, want 0", gotTS)
	}
}

func TestSync_EmptyPayloadStillAdvancesWatermark(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"serverTimestamp": 777}`)
	}))
	defer server.Close()

	res, err := testEngine(t, cache, server.URL).Sync(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewWatermark != 777 {
		t.Errorf("watermark = %d, want 777", res.NewWatermark)
	}
	wm, _ := cache.Watermark(ctx)
	if wm != 777 {
		t.Errorf("committed watermark = %d, want 777", wm)
	}
}

func TestSync_TransportFailureLeavesWatermark(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	if err := cache.SetWatermark(ctx, 300); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "backend down", http.StatusInternalServerError)
			},
			wantErr: ErrTransport,
		},
		{
			name: "http 401",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad token", http.StatusUnauthorized)
			},
			wantErr: ErrTransport,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"serverTimestamp": "not a number"`)
			},
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := testEngine(t, cache, server.URL).Sync(ctx, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !IsRetryable(err) {
				t.Error("failure should be retryable")
			}

			wm, werr := cache.Watermark(ctx)
			if werr != nil {
				t.Fatal(werr)
			}
			if wm != 300 {
				t.Errorf("watermark moved to %d after failed sync, want 300", wm)
			}
		})
	}
}

func TestSync_ConnectionRefused(t *testing.T) {
	cache := testCache(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // guaranteed-dead address

	_, err := testEngine(t, cache, server.URL).Sync(context.Background(), false)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

// failingCache passes everything through to the real store except
// transaction upserts, simulating a storage failure mid-apply.
type failingCache struct {
	*store.Store
}

func (f *failingCache) UpsertTransactions(ctx context.Context, items []schema.Transaction) (int, error) {
	return 0, fmt.Errorf("%w: disk full", store.ErrStorage)
}

func TestSync_StorageFailureLeavesWatermark(t *testing.T) {
	st := testCache(t)
	ctx := context.Background()

	if err := st.SetWatermark(ctx, 100); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"serverTimestamp": 999,
			"transaction": [{"id": "t1", "date": "2024-01-01", "outcome": 1, "outcomeAccount": "a1"}]
		}`)
	}))
	defer server.Close()

	engine := testEngine(t, &failingCache{Store: st}, server.URL)

	_, err := engine.Sync(ctx, false)
	if err == nil {
		t.Fatal("expected storage failure")
	}
	if !IsStorage(err) {
		t.Errorf("IsStorage(%v) = false", err)
	}
	if IsRetryable(err) {
		t.Error("storage failures must not be flagged retryable")
	}

	wm, werr := st.Watermark(ctx)
	if werr != nil {
		t.Fatal(werr)
	}
	if wm != 100 {
		t.Errorf("watermark = %d after aborted apply, want 100", wm)
	}
}

func TestApplyPayload_AdvancesWatermarkOnlyWhenPresent(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	engine := testEngine(t, cache, "http://unused.invalid")

	res, err := engine.ApplyPayload(ctx, &DiffPayload{
		Tag: []schema.Tag{{ID: "tag-1", Title: "Food"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewWatermark != 0 {
		t.Errorf("payload without timestamp advanced watermark to %d", res.NewWatermark)
	}

	if _, err := engine.ApplyPayload(ctx, &DiffPayload{ServerTimestamp: 42}); err != nil {
		t.Fatal(err)
	}
	wm, _ := cache.Watermark(ctx)
	if wm != 42 {
		t.Errorf("watermark = %d, want 42", wm)
	}
}

func TestApplyPayload_NeverRewindsWatermark(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	if err := cache.SetWatermark(ctx, 9000); err != nil {
		t.Fatal(err)
	}

	engine := testEngine(t, cache, "http://unused.invalid")
	res, err := engine.ApplyPayload(ctx, &DiffPayload{
		ServerTimestamp: 42,
		Tag:             []schema.Tag{{ID: "tag-1", Title: "Food"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewWatermark != 9000 {
		t.Errorf("NewWatermark = %d, want 9000", res.NewWatermark)
	}
	wm, _ := cache.Watermark(ctx)
	if wm != 9000 {
		t.Errorf("old payload rewound watermark to %d", wm)
	}

	tags, err := cache.CountTable(ctx, "tags")
	if err != nil {
		t.Fatal(err)
	}
	if tags != 1 {
		t.Errorf("tag rows = %d, want 1 (data still applies)", tags)
	}
}
