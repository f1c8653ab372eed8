package syncer

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/avolkov/zencache/internal/schema"
	"github.com/avolkov/zencache/internal/store"
)

func testCache(t *testing.T) *store.Store {
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

func TestApplyDiff_UpsertsThenDeletes(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	// The same id is both upserted and deleted in one payload. The
	// deletion must win regardless of array position.
	payload := &DiffPayload{
		ServerTimestamp: 500,
		Account: []schema.Account{
			{ID: "a1", Title: "Doomed", Type: schema.AccountCash},
			{ID: "a2", Title: "Kept", Type: schema.AccountCash},
		},
		Deletion: []DeletionEntry{
			{Object: "account", ID: "a1"},
		},
	}

	res, err := applyDiff(ctx, cache, quietLogger(), payload)
	if err != nil {
		t.Fatalf("applyDiff: %v", err)
	}
	if res.Updated["accounts"] != 2 {
		t.Errorf("updated accounts = %d, want 2", res.Updated["accounts"])
	}
	if res.Deleted["accounts"] != 1 {
		t.Errorf("deleted accounts = %d, want 1", res.Deleted["accounts"])
	}

	accounts, err := cache.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].ID != "a2" {
		t.Errorf("surviving accounts = %+v, want only a2", accounts)
	}
}

func TestApplyDiff_SkipsMalformedRecords(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	payload := &DiffPayload{
		Transaction: []schema.Transaction{
			{ID: "", Date: "2024-01-01"}, // missing id
			{ID: "t1", Date: "2024-01-02"},
		},
	}

	res, err := applyDiff(ctx, cache, quietLogger(), payload)
	if err != nil {
		t.Fatalf("a malformed record must not fail the apply: %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", res.Skipped)
	}
	if res.Updated["transactions"] != 1 {
		t.Errorf("updated transactions = %d, want 1", res.Updated["transactions"])
	}
}

func TestApplyDiff_DeletionEdgeCases(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	payload := &DiffPayload{
		Deletion: []DeletionEntry{
			{Object: "martian", ID: "x1"},     // unknown entity type
			{Object: "budget", ID: "b1"},      // budgets have no id column
			{Object: "", ID: "x2"},            // empty object
			{Object: "transaction", ID: "t9"}, // valid but id not present
		},
	}

	res, err := applyDiff(ctx, cache, quietLogger(), payload)
	if err != nil {
		t.Fatalf("applyDiff: %v", err)
	}
	if res.Skipped != 3 {
		t.Errorf("skipped = %d, want 3 (unknown, budget, empty)", res.Skipped)
	}
	if len(res.Deleted) != 0 {
		t.Errorf("deleted = %v, want empty (unknown id removes nothing)", res.Deleted)
	}
}

func TestApplyDiff_MixedDeletions(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	seed := &DiffPayload{
		Instrument:  []schema.Instrument{{ID: 2, Title: "USD", Rate: 1}},
		Account:     []schema.Account{{ID: "a1", Title: "Cash", Type: schema.AccountCash}},
		Transaction: []schema.Transaction{{ID: "t1", Date: "2024-01-01", Outcome: 3, OutcomeAccount: "a1"}},
	}
	if _, err := applyDiff(ctx, cache, quietLogger(), seed); err != nil {
		t.Fatal(err)
	}

	res, err := applyDiff(ctx, cache, quietLogger(), &DiffPayload{
		Deletion: []DeletionEntry{
			{Object: "instrument", ID: "2"},
			{Object: "account", ID: "a1"},
			{Object: "transaction", ID: "t1"},
		},
	})
	if err != nil {
		t.Fatalf("applyDiff: %v", err)
	}

	want := map[string]int{"instruments": 1, "accounts": 1, "transactions": 1}
	for table, n := range want {
		if res.Deleted[table] != n {
			t.Errorf("deleted[%s] = %d, want %d", table, res.Deleted[table], n)
		}
		count, err := cache.CountTable(ctx, table)
		if err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("%s still holds %d rows", table, count)
		}
	}
}

func TestApplyDiff_Idempotent(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	tag := "tag-1"
	payload := &DiffPayload{
		Instrument:  []schema.Instrument{{ID: 2, Title: "USD", Rate: 1}},
		Tag:         []schema.Tag{{ID: "tag-1", Title: "Groceries"}},
		Transaction: []schema.Transaction{{ID: "t1", Date: "2024-05-01", Outcome: 10, OutcomeAccount: "a1"}},
		// Budgets have no id. The uncategorized row (nil tag) is the one
		// most likely to accumulate on replay instead of replacing.
		Budget: []schema.Budget{
			{User: 1, Tag: nil, Date: "2024-05-01", Outcome: 300},
			{User: 1, Tag: &tag, Date: "2024-05-01", Outcome: 120},
		},
	}

	for i := 0; i < 2; i++ {
		if _, err := applyDiff(ctx, cache, quietLogger(), payload); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	for table, want := range map[string]int{"instruments": 1, "tags": 1, "transactions": 1, "budgets": 2} {
		n, err := cache.CountTable(ctx, table)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("%s rows after replay = %d, want %d", table, n, want)
		}
	}
}

func TestParsePayload(t *testing.T) {
	// Representative server response: scalar tag field, integer deletion
	// id, absent arrays for untouched entity types.
	data := []byte(`{
		"serverTimestamp": 1710000000,
		"transaction": [
			{"id": "t1", "date": "2024-03-10", "outcome": 99.5, "outcomeAccount": "a1", "tag": "tag-1"},
			{"id": "t2", "date": "2024-03-11", "income": 5, "incomeAccount": "a1", "tag": ["tag-1", "tag-2"]}
		],
		"deletion": [
			{"object": "instrument", "id": 42},
			{"object": "transaction", "id": "t0"}
		]
	}`)

	payload, err := ParsePayload(data)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.ServerTimestamp != 1710000000 {
		t.Errorf("serverTimestamp = %d", payload.ServerTimestamp)
	}
	if len(payload.Transaction) != 2 {
		t.Fatalf("got %d transactions, want 2", len(payload.Transaction))
	}
	if got := payload.Transaction[0].Tag; len(got) != 1 || got[0] != "tag-1" {
		t.Errorf("scalar tag decoded as %#v", got)
	}
	if got := payload.Transaction[1].Tag; len(got) != 2 {
		t.Errorf("array tag decoded as %#v", got)
	}
	if payload.Deletion[0].ID != "42" {
		t.Errorf("integer deletion id decoded as %q, want \"42\"", payload.Deletion[0].ID)
	}
}

func TestParsePayload_Invalid(t *testing.T) {
	if _, err := ParsePayload([]byte(`<html>backend error</html>`)); err == nil {
		t.Error("expected error for non-JSON body")
	}
}
