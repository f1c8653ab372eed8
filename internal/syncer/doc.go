// Package syncer implements incremental synchronization of the local
// entity cache against the remote ZenMoney diff endpoint.
//
// # Overview
//
// The remote API exposes a single diff operation: POST the last consumed
// server timestamp (the watermark) and receive everything that changed
// after it: per-entity-type upsert arrays, a unified hard-deletion list,
// and a new watermark. The engine merges one such payload into the cache
// and advances the watermark only once the whole payload has applied:
//
//	Remote API (/v8/diff/)
//	     │  {currentClientTimestamp, serverTimestamp}
//	     ▼
//	  Engine ──── applyDiff ────▶ Cache (SQLite)
//	     │        upserts, then deletions
//	     ▼
//	  commit watermark + last sync time
//
// # Consistency
//
// Each upsert/delete batch is one store transaction, so analytics readers
// never observe a half-applied batch. A failed fetch or a storage failure
// mid-apply leaves the watermark untouched; retrying with the stale
// watermark simply re-requests the same or a superset diff, and upserts
// are idempotent, so a partially applied payload is always safe to
// reapply.
//
// # Full vs. incremental
//
// A full resync is an incremental sync seeded with watermark 0. That is
// the whole recovery story for suspected local corruption: re-ingest
// everything and let replace-by-primary-key converge the cache.
//
// # Usage
//
//	cache, err := store.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//	if err := cache.InitSchema(ctx); err != nil {
//	    return err
//	}
//
//	engine := syncer.New(cache, syncer.Config{Token: token})
//	result, err := engine.Sync(ctx, false)
package syncer
