package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

// Keys used in the sync_meta table.
const (
	MetaWatermark    = "server_timestamp"
	MetaLastSyncTime = "last_sync_time"
)

// GetMeta returns the metadata value for key, or "" if the key is unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("get meta "+key, err)
	}
	return value, nil
}

// SetMeta stores a metadata value, overwriting any previous one.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return storageErr("set meta "+key, err)
	}
	return nil
}

// Watermark returns the last applied server timestamp, or 0 if the cache
// has never been synced.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	value, err := s.GetMeta(ctx, MetaWatermark)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, storageErr("parse watermark", err)
	}
	return ts, nil
}

// SetWatermark records the server timestamp after a fully applied sync.
func (s *Store) SetWatermark(ctx context.Context, ts int64) error {
	return s.SetMeta(ctx, MetaWatermark, strconv.FormatInt(ts, 10))
}

// LastSyncTime returns the unix time of the last successful sync, or 0.
func (s *Store) LastSyncTime(ctx context.Context) (int64, error) {
	value, err := s.GetMeta(ctx, MetaLastSyncTime)
	if err != nil || value == "" {
		return 0, err
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, storageErr("parse last sync time", err)
	}
	return ts, nil
}

// SetLastSyncTime records the wall-clock time of a successful sync.
func (s *Store) SetLastSyncTime(ctx context.Context, unix int64) error {
	return s.SetMeta(ctx, MetaLastSyncTime, strconv.FormatInt(unix, 10))
}
