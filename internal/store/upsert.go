package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avolkov/zencache/internal/schema"
)

// Each upsert method replaces whole rows by primary key: any field absent
// in the incoming record overwrites the stored value with its default.
// One call is one transaction, so concurrent readers see either the
// pre-batch or post-batch state, never a partial batch. Empty batches are
// no-ops returning 0.

// inTx runs fn inside a single transaction.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op+": begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op+": commit", err)
	}
	return nil
}

// tagJSON serializes a tag list for storage. nil stays NULL so "no
// categories" is distinguishable from an empty list.
func tagJSON(t schema.TagList) (any, error) {
	if t == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("marshal tag list: %w", err)
	}
	return string(data), nil
}

// UpsertInstruments replaces instrument rows by id. Returns rows written.
func (s *Store) UpsertInstruments(ctx context.Context, items []schema.Instrument) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert instruments", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO instruments
			(id, title, short_title, symbol, rate, changed)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert instruments: prepare", err)
		}
		defer stmt.Close()
		for _, it := range items {
			if _, err := stmt.ExecContext(ctx,
				it.ID, it.Title, it.ShortTitle, it.Symbol, it.Rate, it.Changed); err != nil {
				return storageErr(fmt.Sprintf("upsert instrument %d", it.ID), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertCompanies replaces company rows by id.
func (s *Store) UpsertCompanies(ctx context.Context, items []schema.Company) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert companies", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO companies (id, title, country, changed)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert companies: prepare", err)
		}
		defer stmt.Close()
		for _, c := range items {
			if _, err := stmt.ExecContext(ctx, c.ID, c.Title, c.Country, c.Changed); err != nil {
				return storageErr(fmt.Sprintf("upsert company %d", c.ID), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertUsers replaces user rows by id.
func (s *Store) UpsertUsers(ctx context.Context, items []schema.User) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert users", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO users (id, login, currency, parent, changed)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert users: prepare", err)
		}
		defer stmt.Close()
		for _, u := range items {
			if _, err := stmt.ExecContext(ctx, u.ID, u.Login, u.Currency, u.Parent, u.Changed); err != nil {
				return storageErr(fmt.Sprintf("upsert user %d", u.ID), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertAccounts replaces account rows by id.
func (s *Store) UpsertAccounts(ctx context.Context, items []schema.Account) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert accounts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO accounts
			(id, title, type, instrument, company, balance, credit_limit,
			 in_balance, savings, archive, user, role, changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert accounts: prepare", err)
		}
		defer stmt.Close()
		for _, a := range items {
			if _, err := stmt.ExecContext(ctx,
				a.ID, a.Title, a.Type, a.Instrument, a.Company, a.Balance, a.CreditLimit,
				boolInt(a.CountedInBalance()), boolInt(a.Savings), boolInt(a.Archive),
				a.User, a.Role, a.Changed); err != nil {
				return storageErr("upsert account "+a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertTags replaces tag rows by id.
func (s *Store) UpsertTags(ctx context.Context, items []schema.Tag) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert tags", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO tags
			(id, title, parent, show_income, show_outcome,
			 budget_income, budget_outcome, required, user, changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert tags: prepare", err)
		}
		defer stmt.Close()
		for _, t := range items {
			if _, err := stmt.ExecContext(ctx,
				t.ID, t.Title, t.Parent, boolInt(t.ShowIncome), boolInt(t.ShowOutcome),
				boolInt(t.BudgetIncome), boolInt(t.BudgetOutcome), boolInt(t.Required),
				t.User, t.Changed); err != nil {
				return storageErr("upsert tag "+t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertMerchants replaces merchant rows by id.
func (s *Store) UpsertMerchants(ctx context.Context, items []schema.Merchant) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert merchants", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO merchants (id, title, user, changed)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert merchants: prepare", err)
		}
		defer stmt.Close()
		for _, m := range items {
			if _, err := stmt.ExecContext(ctx, m.ID, m.Title, m.User, m.Changed); err != nil {
				return storageErr("upsert merchant "+m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertTransactions replaces transaction rows by id. The tag list is
// stored as a JSON array column with order preserved.
func (s *Store) UpsertTransactions(ctx context.Context, items []schema.Transaction) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert transactions", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO transactions
			(id, date, user, deleted, hold, income, income_instrument, income_account,
			 outcome, outcome_instrument, outcome_account, tag, merchant, payee,
			 original_payee, comment, mcc, op_income, op_income_instrument,
			 op_outcome, op_outcome_instrument, latitude, longitude,
			 reminder_marker, created, changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert transactions: prepare", err)
		}
		defer stmt.Close()
		for _, t := range items {
			tags, err := tagJSON(t.Tag)
			if err != nil {
				return storageErr("upsert transaction "+t.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				t.ID, t.Date, t.User, boolInt(t.Deleted), boolInt(t.Hold),
				t.Income, t.IncomeInstrument, t.IncomeAccount,
				t.Outcome, t.OutcomeInstrument, t.OutcomeAccount,
				tags, t.Merchant, t.Payee, t.OriginalPayee, t.Comment, t.MCC,
				t.OpIncome, t.OpIncomeInstrument, t.OpOutcome, t.OpOutcomeInstrument,
				t.Latitude, t.Longitude, t.ReminderMarker, t.Created, t.Changed); err != nil {
				return storageErr("upsert transaction "+t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertBudgets replaces budget rows by their composite (tag, date, user)
// key. A missing tag is stored as the empty string: SQLite treats every
// NULL in a composite primary key as distinct, so a NULL tag would make
// re-applied uncategorized budgets accumulate instead of replace.
func (s *Store) UpsertBudgets(ctx context.Context, items []schema.Budget) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert budgets", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO budgets
			(user, tag, date, income, income_lock, outcome, outcome_lock, changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert budgets: prepare", err)
		}
		defer stmt.Close()
		for _, b := range items {
			tag := ""
			if b.Tag != nil {
				tag = *b.Tag
			}
			if _, err := stmt.ExecContext(ctx,
				b.User, tag, b.Date, b.Income, boolInt(b.IncomeLock),
				b.Outcome, boolInt(b.OutcomeLock), b.Changed); err != nil {
				return storageErr("upsert budget "+b.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertReminders replaces reminder rows by id.
func (s *Store) UpsertReminders(ctx context.Context, items []schema.Reminder) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert reminders", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO reminders
			(id, user, interval, step, start_date, end_date, income, outcome,
			 income_account, outcome_account, tag, merchant, payee, comment, notify, changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert reminders: prepare", err)
		}
		defer stmt.Close()
		for _, r := range items {
			tags, err := tagJSON(r.Tag)
			if err != nil {
				return storageErr("upsert reminder "+r.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				r.ID, r.User, r.Interval, r.Step, r.StartDate, r.EndDate,
				r.Income, r.Outcome, r.IncomeAccount, r.OutcomeAccount,
				tags, r.Merchant, r.Payee, r.Comment, boolInt(r.Notify), r.Changed); err != nil {
				return storageErr("upsert reminder "+r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpsertReminderMarkers replaces reminder marker rows by id.
func (s *Store) UpsertReminderMarkers(ctx context.Context, items []schema.ReminderMarker) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	err := s.inTx(ctx, "upsert reminder markers", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO reminder_markers
			(id, user, reminder, date, state, income, outcome,
			 income_account, outcome_account, tag, merchant, payee, comment, changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return storageErr("upsert reminder markers: prepare", err)
		}
		defer stmt.Close()
		for _, m := range items {
			tags, err := tagJSON(m.Tag)
			if err != nil {
				return storageErr("upsert reminder marker "+m.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				m.ID, m.User, m.Reminder, m.Date, m.State, m.Income, m.Outcome,
				m.IncomeAccount, m.OutcomeAccount, tags, m.Merchant, m.Payee,
				m.Comment, m.Changed); err != nil {
				return storageErr("upsert reminder marker "+m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// deletableTables whitelists tables that accept hard deletes by id.
// budgets is absent: it has a composite key and the server never issues
// id-based deletions for it.
var deletableTables = map[string]bool{
	"instruments":      true,
	"companies":        true,
	"users":            true,
	"accounts":         true,
	"tags":             true,
	"merchants":        true,
	"transactions":     true,
	"reminders":        true,
	"reminder_markers": true,
}

// DeleteByIDs hard-deletes rows by primary key. Unknown ids are ignored;
// the count of rows actually removed is returned. Integer-keyed tables
// accept string ids through SQLite column affinity.
func (s *Store) DeleteByIDs(ctx context.Context, table string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !deletableTables[table] {
		return 0, fmt.Errorf("table %q does not support deletion by id", table)
	}

	var removed int64
	err := s.inTx(ctx, "delete from "+table, func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, placeholders), args...)
		if err != nil {
			return storageErr("delete from "+table, err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return storageErr("delete from "+table+": rows affected", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}
