package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/avolkov/zencache/internal/store"
	"github.com/avolkov/zencache/internal/syncer"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return st
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNew_RequiresEngineAndCache(t *testing.T) {
	st := testStore(t)
	engine := syncer.New(st, syncer.Config{Token: "x", Logger: quietLogger()})

	if _, err := New(nil, st, nil, nil); err == nil {
		t.Error("expected error for nil engine")
	}
	if _, err := New(engine, nil, nil, nil); err == nil {
		t.Error("expected error for nil cache")
	}
	if _, err := New(engine, st, nil, nil); err != nil {
		t.Errorf("valid construction failed: %v", err)
	}
}

func TestDaemon_RunsInitialCycle(t *testing.T) {
	st := testStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"serverTimestamp": 1234,
			"tag": [{"id": "t1", "title": "Food"}]
		}`)
	}))
	defer server.Close()

	engine := syncer.New(st, syncer.Config{
		APIURL: server.URL,
		Token:  "test-token",
		Logger: quietLogger(),
	})

	d, err := New(engine, st, nil, &Config{
		SyncInterval: time.Hour, // only the startup cycle should run
		MaxRetries:   0,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if res, _ := d.LastResult(); res != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, lastErr := d.LastResult()
	if lastErr != nil {
		t.Fatalf("cycle failed: %v", lastErr)
	}
	if res == nil {
		t.Fatal("no cycle completed before deadline")
	}
	if res.NewWatermark != 1234 {
		t.Errorf("watermark = %d, want 1234", res.NewWatermark)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	wm, _ := st.Watermark(context.Background())
	if wm != 1234 {
		t.Errorf("committed watermark = %d, want 1234", wm)
	}
}

func TestDaemon_RecordsFailure(t *testing.T) {
	st := testStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := syncer.New(st, syncer.Config{
		APIURL: server.URL,
		Token:  "test-token",
		Logger: quietLogger(),
	})

	d, err := New(engine, st, nil, &Config{
		SyncInterval: time.Hour,
		MaxRetries:   0, // fail fast
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		if _, lastErr = d.LastResult(); lastErr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if lastErr == nil {
		t.Fatal("expected recorded failure")
	}
	if !syncer.IsRetryable(lastErr) {
		t.Errorf("failure should be retryable, got %v", lastErr)
	}

	wm, _ := st.Watermark(context.Background())
	if wm != 0 {
		t.Errorf("watermark moved to %d after failed cycles, want 0", wm)
	}
}
