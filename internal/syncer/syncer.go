package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// DefaultAPIURL is the production diff endpoint.
const DefaultAPIURL = "https://api.zenmoney.ru/v8/diff/"

// DefaultTimeout bounds one diff exchange. Full syncs can carry years of
// transactions in one payload, so this is generous.
const DefaultTimeout = 60 * time.Second

// Config holds engine configuration.
type Config struct {
	// APIURL is the diff endpoint (default: DefaultAPIURL).
	APIURL string

	// Token is the OAuth2 bearer token for the remote API.
	Token string

	// Timeout bounds the network exchange (default: DefaultTimeout).
	Timeout time.Duration

	// HTTPClient overrides the client used for the diff request.
	// Mostly for tests; nil means a client built from Timeout.
	HTTPClient *http.Client

	// Logger for engine activity (default: stderr with "[sync] " prefix).
	Logger *log.Logger
}

// Engine drives one end-to-end synchronization cycle against the remote
// diff endpoint. It holds no cross-call state beyond the watermark in the
// cache; concurrent Sync calls must be serialized by the caller.
type Engine struct {
	cache  Cache
	url    string
	token  string
	client *http.Client
	logger *log.Logger
	now    func() time.Time
}

// New creates a sync engine backed by the given cache.
//
// The cache must be opened and have its schema initialized before use.
func New(cache Cache, cfg Config) *Engine {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		cache:  cache,
		url:    cfg.APIURL,
		token:  cfg.Token,
		client: cfg.HTTPClient,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// SyncResult summarizes one completed cycle.
type SyncResult struct {
	Updated      map[string]int `json:"updated"`
	Deleted      map[string]int `json:"deleted"`
	Skipped      int            `json:"skipped,omitempty"`
	NewWatermark int64          `json:"new_server_timestamp"`
	DurationMS   int64          `json:"sync_duration_ms"`
	Status       string         `json:"status"`
}

// diffRequest is the wire body of one diff exchange.
type diffRequest struct {
	CurrentClientTimestamp int64 `json:"currentClientTimestamp"`
	ServerTimestamp        int64 `json:"serverTimestamp"`
}

// Sync performs one synchronization cycle:
//
//  1. determine the watermark (0 when forceFull)
//  2. fetch the diff from the remote endpoint
//  3. apply the payload to the cache (upserts first, then deletions)
//  4. commit the new watermark and last-sync time
//  5. report
//
// A transport or decode failure surfaces as ErrTransport or
// ErrMalformedResponse with the cache fully untouched; a storage failure
// during apply leaves the watermark at its pre-call value, so retrying
// with the same watermark re-requests the same or a superset diff. There
// is no retry inside one call.
func (e *Engine) Sync(ctx context.Context, forceFull bool) (*SyncResult, error) {
	start := e.now()

	var watermark int64
	if !forceFull {
		var err error
		watermark, err = e.cache.Watermark(ctx)
		if err != nil {
			return nil, err
		}
	}

	clientTS := e.now().Unix()
	e.logger.Printf("Requesting diff: serverTimestamp=%d full=%v", watermark, forceFull)

	payload, err := e.fetchDiff(ctx, clientTS, watermark)
	if err != nil {
		return nil, err
	}

	res, err := applyDiff(ctx, e.cache, e.logger, payload)
	if err != nil {
		return nil, err
	}

	// Commit the watermark only after the whole payload applied cleanly.
	// The server may omit its timestamp; the request time is a safe floor.
	newWatermark := payload.ServerTimestamp
	if newWatermark == 0 {
		newWatermark = clientTS
	}
	if err := e.cache.SetWatermark(ctx, newWatermark); err != nil {
		return nil, err
	}
	if err := e.cache.SetLastSyncTime(ctx, e.now().Unix()); err != nil {
		return nil, err
	}

	result := &SyncResult{
		Updated:      res.Updated,
		Deleted:      res.Deleted,
		Skipped:      res.Skipped,
		NewWatermark: newWatermark,
		DurationMS:   e.now().Sub(start).Milliseconds(),
		Status:       "synced",
	}
	e.logger.Printf("Sync complete: updated=%d deleted=%d skipped=%d watermark=%d",
		totalCount(res.Updated), totalCount(res.Deleted), res.Skipped, newWatermark)
	return result, nil
}

// ApplyPayload merges an already-parsed payload into the cache, advancing
// the watermark when the payload carries a newer one. This is the offline
// half of
// Sync, used by tests and by tooling that replays captured diffs.
func (e *Engine) ApplyPayload(ctx context.Context, payload *DiffPayload) (*SyncResult, error) {
	res, err := applyDiff(ctx, e.cache, e.logger, payload)
	if err != nil {
		return nil, err
	}
	watermark, err := e.cache.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	// Replaying an old captured payload must not rewind the watermark;
	// it only ever moves forward.
	if payload.ServerTimestamp > watermark {
		watermark = payload.ServerTimestamp
		if err := e.cache.SetWatermark(ctx, watermark); err != nil {
			return nil, err
		}
	}
	return &SyncResult{
		Updated:      res.Updated,
		Deleted:      res.Deleted,
		Skipped:      res.Skipped,
		NewWatermark: watermark,
		Status:       "synced",
	}, nil
}

// fetchDiff performs the network exchange. Any failure here is terminal
// for the cycle and leaves no local state behind.
func (e *Engine) fetchDiff(ctx context.Context, clientTS, watermark int64) (*DiffPayload, error) {
	body, err := json.Marshal(diffRequest{
		CurrentClientTimestamp: clientTS,
		ServerTimestamp:        watermark,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status %d: %s", ErrTransport, resp.StatusCode, truncate(data, 200))
	}

	payload, err := ParsePayload(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return payload, nil
}

func totalCount(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

func truncate(data []byte, max int) string {
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
