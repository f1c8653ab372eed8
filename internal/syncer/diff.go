package syncer

import (
	"context"
	"encoding/json"
	"log"

	"github.com/avolkov/zencache/internal/schema"
)

// DiffPayload is one server response from the diff endpoint: optional
// per-entity-type upsert arrays, a unified deletion list, and the new
// watermark. Field names match the wire protocol.
type DiffPayload struct {
	ServerTimestamp int64 `json:"serverTimestamp"`

	Instrument     []schema.Instrument     `json:"instrument,omitempty"`
	Company        []schema.Company        `json:"company,omitempty"`
	User           []schema.User           `json:"user,omitempty"`
	Account        []schema.Account        `json:"account,omitempty"`
	Tag            []schema.Tag            `json:"tag,omitempty"`
	Merchant       []schema.Merchant       `json:"merchant,omitempty"`
	Transaction    []schema.Transaction    `json:"transaction,omitempty"`
	Budget         []schema.Budget         `json:"budget,omitempty"`
	Reminder       []schema.Reminder       `json:"reminder,omitempty"`
	ReminderMarker []schema.ReminderMarker `json:"reminderMarker,omitempty"`

	Deletion []DeletionEntry `json:"deletion,omitempty"`
}

// DeletionEntry is one hard-deletion instruction: the entity-type name as
// the server spells it, plus the id to remove.
type DeletionEntry struct {
	Object string          `json:"object"`
	ID     schema.EntityID `json:"id"`
}

// Result summarizes what one applied payload changed. Updated and Deleted
// are keyed by table name and omit entity types with zero activity.
// Skipped counts records dropped for failing validation (missing id) and
// deletion entries naming an unknown entity type.
type Result struct {
	Updated map[string]int `json:"updated"`
	Deleted map[string]int `json:"deleted"`
	Skipped int            `json:"skipped,omitempty"`
}

// tableFor maps a wire entity-type name to its cache table. The switch is
// the single source of truth for the name set shared by upserts and
// deletion entries.
func tableFor(object string) (string, bool) {
	switch object {
	case "instrument":
		return "instruments", true
	case "company":
		return "companies", true
	case "user":
		return "users", true
	case "account":
		return "accounts", true
	case "tag":
		return "tags", true
	case "merchant":
		return "merchants", true
	case "transaction":
		return "transactions", true
	case "budget":
		return "budgets", true
	case "reminder":
		return "reminders", true
	case "reminderMarker":
		return "reminder_markers", true
	}
	return "", false
}

// deletionOrder fixes the order deletion batches are flushed in, so
// repeated applies of the same payload touch tables deterministically.
var deletionOrder = []string{
	"instruments", "companies", "users", "accounts", "tags",
	"merchants", "transactions", "reminders", "reminder_markers",
}

// applyDiff merges one payload into the cache: all upserts first, across
// every entity type present, then all deletions. A deletion therefore wins
// over an upsert of the same id within one payload. Individually malformed
// records are skipped and counted, never fatal; any storage failure aborts
// the apply immediately.
func applyDiff(ctx context.Context, cache Cache, logger *log.Logger, payload *DiffPayload) (*Result, error) {
	res := &Result{
		Updated: make(map[string]int),
		Deleted: make(map[string]int),
	}

	// Upserts, fixed entity order. Reference data lands before the user
	// data that points at it, though readers tolerate missing references
	// either way.
	valid := filterValid(payload, logger, &res.Skipped)

	upserts := []struct {
		table string
		run   func() (int, error)
	}{
		{"instruments", func() (int, error) { return cache.UpsertInstruments(ctx, valid.Instrument) }},
		{"companies", func() (int, error) { return cache.UpsertCompanies(ctx, valid.Company) }},
		{"users", func() (int, error) { return cache.UpsertUsers(ctx, valid.User) }},
		{"accounts", func() (int, error) { return cache.UpsertAccounts(ctx, valid.Account) }},
		{"tags", func() (int, error) { return cache.UpsertTags(ctx, valid.Tag) }},
		{"merchants", func() (int, error) { return cache.UpsertMerchants(ctx, valid.Merchant) }},
		{"transactions", func() (int, error) { return cache.UpsertTransactions(ctx, valid.Transaction) }},
		{"budgets", func() (int, error) { return cache.UpsertBudgets(ctx, valid.Budget) }},
		{"reminders", func() (int, error) { return cache.UpsertReminders(ctx, valid.Reminder) }},
		{"reminder_markers", func() (int, error) { return cache.UpsertReminderMarkers(ctx, valid.ReminderMarker) }},
	}
	for _, step := range upserts {
		n, err := step.run()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			res.Updated[step.table] += n
		}
	}

	// Deletions, grouped per table. Applied strictly after upserts so a
	// create-then-delete within one payload ends deleted.
	byTable := make(map[string][]string)
	for _, del := range payload.Deletion {
		if del.Object == "" || del.ID == "" {
			res.Skipped++
			continue
		}
		table, ok := tableFor(del.Object)
		if !ok || table == "budgets" {
			// budgets have no id-addressable rows; unknown names are a
			// server-side anomaly worth surfacing but not failing over.
			logger.Printf("WARNING: skipping deletion for unrecognized object %q (id=%s)", del.Object, del.ID)
			res.Skipped++
			continue
		}
		byTable[table] = append(byTable[table], del.ID.String())
	}
	for _, table := range deletionOrder {
		ids, ok := byTable[table]
		if !ok {
			continue
		}
		n, err := cache.DeleteByIDs(ctx, table, ids)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			res.Deleted[table] += n
		}
	}

	return res, nil
}

// filterValid drops records that fail validation, counting and logging
// each one. A bad record in one entity type never aborts the others.
func filterValid(p *DiffPayload, logger *log.Logger, skipped *int) *DiffPayload {
	out := &DiffPayload{ServerTimestamp: p.ServerTimestamp}

	out.Instrument = keepValid(p.Instrument, logger, skipped, func(v *schema.Instrument) error { return v.Validate() })
	out.Company = keepValid(p.Company, logger, skipped, func(v *schema.Company) error { return v.Validate() })
	out.User = keepValid(p.User, logger, skipped, func(v *schema.User) error { return v.Validate() })
	out.Account = keepValid(p.Account, logger, skipped, func(v *schema.Account) error { return v.Validate() })
	out.Tag = keepValid(p.Tag, logger, skipped, func(v *schema.Tag) error { return v.Validate() })
	out.Merchant = keepValid(p.Merchant, logger, skipped, func(v *schema.Merchant) error { return v.Validate() })
	out.Transaction = keepValid(p.Transaction, logger, skipped, func(v *schema.Transaction) error { return v.Validate() })
	out.Budget = keepValid(p.Budget, logger, skipped, func(v *schema.Budget) error { return v.Validate() })
	out.Reminder = keepValid(p.Reminder, logger, skipped, func(v *schema.Reminder) error { return v.Validate() })
	out.ReminderMarker = keepValid(p.ReminderMarker, logger, skipped, func(v *schema.ReminderMarker) error { return v.Validate() })

	return out
}

func keepValid[T any](items []T, logger *log.Logger, skipped *int, validate func(*T) error) []T {
	if len(items) == 0 {
		return nil
	}
	out := items[:0:0]
	for i := range items {
		if err := validate(&items[i]); err != nil {
			logger.Printf("WARNING: skipping record: %v", err)
			*skipped++
			continue
		}
		out = append(out, items[i])
	}
	return out
}

// ParsePayload decodes a raw diff response body.
func ParsePayload(data []byte) (*DiffPayload, error) {
	var payload DiffPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
