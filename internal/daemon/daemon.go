// Package daemon provides the background sync daemon that keeps the local
// cache fresh.
//
// The daemon:
// 1. Runs a sync cycle immediately on startup
// 2. Repeats the cycle on a fixed interval
// 3. Retries transport failures with exponential backoff
// 4. Publishes results to the dashboard and handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/avolkov/zencache/internal/dashboard"
	"github.com/avolkov/zencache/internal/store"
	"github.com/avolkov/zencache/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a sync cycle.
	SyncInterval time.Duration

	// MaxRetries bounds backoff retries of a failed cycle. Only
	// retryable failures are retried; storage failures abort the cycle.
	MaxRetries uint64

	// LogFile, when set, routes daemon logs to a rotating file instead
	// of stderr.
	LogFile string

	// Logger for daemon activity. Overrides LogFile when set.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		MaxRetries:   3,
	}
}

// Daemon runs periodic sync cycles against the server.
type Daemon struct {
	engine *syncer.Engine
	cache  *store.Store
	config *Config
	events *dashboard.Handler
	logger *log.Logger

	lastResult   *syncer.SyncResult
	lastErr      error
	lastResultMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. The dashboard handler may be nil when no
// dashboard is running.
func New(engine *syncer.Engine, cache *store.Store, events *dashboard.Handler, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 5 * time.Minute
	}

	logger := config.Logger
	if logger == nil {
		if config.LogFile != "" {
			logger = log.New(&lumberjack.Logger{
				Filename:   config.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     30, // days
			}, "[daemon] ", log.LstdFlags)
		} else {
			logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine: engine,
		cache:  cache,
		config: config,
		events: events,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins periodic syncing. An initial cycle runs immediately.
// Blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Printf("Starting daemon (interval: %s)", d.config.SyncInterval)

	d.runCycle(ctx)

	d.wg.Add(1)
	go d.syncLoop(ctx)

	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		d.wg.Wait()
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")
	d.cancel()
	d.wg.Wait()
	d.logger.Println("Daemon stopped")
	return nil
}

// LastResult returns the most recent cycle outcome.
func (d *Daemon) LastResult() (*syncer.SyncResult, error) {
	d.lastResultMu.Lock()
	defer d.lastResultMu.Unlock()
	return d.lastResult, d.lastErr
}

func (d *Daemon) syncLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// runCycle performs one sync attempt with backoff on retryable errors.
func (d *Daemon) runCycle(ctx context.Context) {
	var result *syncer.SyncResult

	backoff := retry.WithMaxRetries(d.config.MaxRetries,
		retry.NewExponential(2*time.Second))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := d.engine.Sync(ctx, false)
		if err != nil {
			if syncer.IsRetryable(err) {
				d.logger.Printf("Sync attempt failed, will retry: %v", err)
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})

	d.lastResultMu.Lock()
	d.lastResult = result
	d.lastErr = err
	d.lastResultMu.Unlock()

	if err != nil {
		d.logger.Printf("Sync cycle failed: %v", err)
		d.events.SyncFailed(err)
		return
	}

	d.logger.Printf("Sync cycle complete: %d updated, %d deleted, watermark %d",
		sumCounts(result.Updated), sumCounts(result.Deleted), result.NewWatermark)
	d.events.SyncComplete(result)
	d.publishStats(ctx)
}

// publishStats pushes current per-table counts to the dashboard.
func (d *Daemon) publishStats(ctx context.Context) {
	if d.events == nil {
		return
	}

	tables := map[string]int{}
	for _, table := range []string{
		"instruments", "companies", "users", "accounts", "tags",
		"merchants", "transactions", "budgets", "reminders", "reminder_markers",
	} {
		n, err := d.cache.CountTable(ctx, table)
		if err != nil {
			d.logger.Printf("Failed to count %s: %v", table, err)
			continue
		}
		tables[table] = n
	}

	watermark, err := d.cache.Watermark(ctx)
	if err != nil {
		d.logger.Printf("Failed to read watermark: %v", err)
	}

	d.events.Stats(tables, watermark)
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
