package syncer

import (
	"context"

	"github.com/avolkov/zencache/internal/schema"
)

// Cache is the slice of the entity store the sync engine writes through.
// *store.Store satisfies it; tests substitute failing wrappers to exercise
// mid-apply storage failures.
//
// Every upsert replaces whole rows by primary key and is atomic per call:
// a concurrent reader sees either the pre-batch or post-batch state.
type Cache interface {
	UpsertInstruments(ctx context.Context, items []schema.Instrument) (int, error)
	UpsertCompanies(ctx context.Context, items []schema.Company) (int, error)
	UpsertUsers(ctx context.Context, items []schema.User) (int, error)
	UpsertAccounts(ctx context.Context, items []schema.Account) (int, error)
	UpsertTags(ctx context.Context, items []schema.Tag) (int, error)
	UpsertMerchants(ctx context.Context, items []schema.Merchant) (int, error)
	UpsertTransactions(ctx context.Context, items []schema.Transaction) (int, error)
	UpsertBudgets(ctx context.Context, items []schema.Budget) (int, error)
	UpsertReminders(ctx context.Context, items []schema.Reminder) (int, error)
	UpsertReminderMarkers(ctx context.Context, items []schema.ReminderMarker) (int, error)

	// DeleteByIDs hard-deletes by primary key, returning rows actually
	// removed. Unknown ids and empty lists are quiet no-ops.
	DeleteByIDs(ctx context.Context, table string, ids []string) (int, error)

	// Watermark returns the last applied server timestamp, 0 if never
	// synced. SetWatermark must only be called after a fully applied
	// payload.
	Watermark(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, ts int64) error
	SetLastSyncTime(ctx context.Context, unix int64) error
}
