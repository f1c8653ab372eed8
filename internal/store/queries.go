package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/avolkov/zencache/internal/schema"
)

// Read side of the cache. Analytics consumers only ever go through these
// lookups (or RawDB for ad-hoc SQL); nothing here mutates state.

// CountTable returns the number of rows in a table.
func (s *Store) CountTable(ctx context.Context, table string) (int, error) {
	if !deletableTables[table] && table != "budgets" {
		return 0, errors.New("unknown table " + table)
	}
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	if err != nil {
		return 0, storageErr("count "+table, err)
	}
	return count, nil
}

// UserCurrency returns the primary user's home currency instrument id,
// or 0 if no user has been synced yet.
func (s *Store) UserCurrency(ctx context.Context) (int64, error) {
	var currency int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT currency FROM users WHERE parent IS NULL LIMIT 1").Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("user currency", err)
	}
	return currency, nil
}

// InstrumentRate returns the exchange rate for an instrument, or 1.0 when
// the instrument is unknown. Missing lookups are "unknown", never errors:
// the feed is eventually consistent and references may arrive late.
func (s *Store) InstrumentRate(ctx context.Context, id int64) (float64, error) {
	var rate sql.NullFloat64
	err := s.conn.QueryRowContext(ctx,
		"SELECT rate FROM instruments WHERE id = ?", id).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 1.0, nil
	}
	if err != nil {
		return 0, storageErr("instrument rate", err)
	}
	if !rate.Valid || rate.Float64 == 0 {
		return 1.0, nil
	}
	return rate.Float64, nil
}

// Instruments returns all cached instruments.
func (s *Store) Instruments(ctx context.Context) ([]schema.Instrument, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, title, short_title, symbol, rate, changed FROM instruments ORDER BY id")
	if err != nil {
		return nil, storageErr("list instruments", err)
	}
	defer rows.Close()

	var out []schema.Instrument
	for rows.Next() {
		var in schema.Instrument
		var rate sql.NullFloat64
		if err := rows.Scan(&in.ID, &in.Title, &in.ShortTitle, &in.Symbol, &rate, &in.Changed); err != nil {
			return nil, storageErr("scan instrument", err)
		}
		in.Rate = rate.Float64
		out = append(out, in)
	}
	return out, rows.Err()
}

// Accounts returns all cached accounts, archived ones included; callers
// filter by the flags they care about.
func (s *Store) Accounts(ctx context.Context) ([]schema.Account, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, type, instrument, company, balance, credit_limit,
		       in_balance, savings, archive, user, role, changed
		FROM accounts ORDER BY title`)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	defer rows.Close()

	var out []schema.Account
	for rows.Next() {
		var a schema.Account
		var balance sql.NullFloat64
		var inBalance, savings, archive int
		if err := rows.Scan(&a.ID, &a.Title, &a.Type, &a.Instrument, &a.Company,
			&balance, &a.CreditLimit, &inBalance, &savings, &archive,
			&a.User, &a.Role, &a.Changed); err != nil {
			return nil, storageErr("scan account", err)
		}
		a.Balance = balance.Float64
		counted := inBalance == 1
		a.InBalance = &counted
		a.Savings = savings == 1
		a.Archive = archive == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

// Tags returns all cached categories.
func (s *Store) Tags(ctx context.Context) ([]schema.Tag, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, parent, show_income, show_outcome,
		       budget_income, budget_outcome, required, user, changed
		FROM tags ORDER BY title`)
	if err != nil {
		return nil, storageErr("list tags", err)
	}
	defer rows.Close()

	var out []schema.Tag
	for rows.Next() {
		var t schema.Tag
		var showIn, showOut, budgetIn, budgetOut, required int
		if err := rows.Scan(&t.ID, &t.Title, &t.Parent, &showIn, &showOut,
			&budgetIn, &budgetOut, &required, &t.User, &t.Changed); err != nil {
			return nil, storageErr("scan tag", err)
		}
		t.ShowIncome = showIn == 1
		t.ShowOutcome = showOut == 1
		t.BudgetIncome = budgetIn == 1
		t.BudgetOutcome = budgetOut == 1
		t.Required = required == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransactionsBetween returns non-deleted transactions with from <= date <= to,
// ordered by date. Dates are YYYY-MM-DD strings, so lexical compare is
// chronological. Held (pending) transactions are included; callers exclude
// them where their aggregation requires it.
func (s *Store) TransactionsBetween(ctx context.Context, from, to string) ([]schema.Transaction, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, date, user, deleted, hold, income, income_instrument, income_account,
		       outcome, outcome_instrument, outcome_account, tag, merchant, payee,
		       comment, created, changed
		FROM transactions
		WHERE deleted = 0 AND date >= ? AND date <= ?
		ORDER BY date`, from, to)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	defer rows.Close()

	var out []schema.Transaction
	for rows.Next() {
		var t schema.Transaction
		var deleted, hold int
		var tags, incomeAcc, outcomeAcc, payee, comment sql.NullString
		var incomeIns, outcomeIns sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Date, &t.User, &deleted, &hold,
			&t.Income, &incomeIns, &incomeAcc,
			&t.Outcome, &outcomeIns, &outcomeAcc,
			&tags, &t.Merchant, &payee, &comment, &t.Created, &t.Changed); err != nil {
			return nil, storageErr("scan transaction", err)
		}
		t.Deleted = deleted == 1
		t.Hold = hold == 1
		t.IncomeInstrument = incomeIns.Int64
		t.IncomeAccount = incomeAcc.String
		t.OutcomeInstrument = outcomeIns.Int64
		t.OutcomeAccount = outcomeAcc.String
		t.Payee = payee.String
		t.Comment = comment.String
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), (*[]string)(&t.Tag)); err != nil {
				return nil, storageErr("decode tag list for transaction "+t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BudgetsForMonth returns the budget rows for the month starting at
// monthStart (YYYY-MM-01).
func (s *Store) BudgetsForMonth(ctx context.Context, monthStart string) ([]schema.Budget, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT user, tag, date, income, income_lock, outcome, outcome_lock, changed
		FROM budgets WHERE date = ?`, monthStart)
	if err != nil {
		return nil, storageErr("list budgets", err)
	}
	defer rows.Close()

	var out []schema.Budget
	for rows.Next() {
		var b schema.Budget
		var tag string
		var income, outcome sql.NullFloat64
		var incomeLock, outcomeLock int
		if err := rows.Scan(&b.User, &tag, &b.Date, &income, &incomeLock,
			&outcome, &outcomeLock, &b.Changed); err != nil {
			return nil, storageErr("scan budget", err)
		}
		if tag != "" {
			b.Tag = &tag
		}
		b.Income = income.Float64
		b.Outcome = outcome.Float64
		b.IncomeLock = incomeLock == 1
		b.OutcomeLock = outcomeLock == 1
		out = append(out, b)
	}
	return out, rows.Err()
}

// PlannedMarkersBetween returns reminder markers in the planned state with
// from <= date <= to, ordered by date.
func (s *Store) PlannedMarkersBetween(ctx context.Context, from, to string) ([]schema.ReminderMarker, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, user, reminder, date, state, income, outcome,
		       income_account, outcome_account, tag, merchant, payee, comment, changed
		FROM reminder_markers
		WHERE state = ? AND date >= ? AND date <= ?
		ORDER BY date`, schema.MarkerPlanned, from, to)
	if err != nil {
		return nil, storageErr("list reminder markers", err)
	}
	defer rows.Close()

	var out []schema.ReminderMarker
	for rows.Next() {
		var m schema.ReminderMarker
		var income, outcome sql.NullFloat64
		var reminder, incomeAcc, outcomeAcc, tags, payee, comment sql.NullString
		if err := rows.Scan(&m.ID, &m.User, &reminder, &m.Date, &m.State,
			&income, &outcome, &incomeAcc, &outcomeAcc, &tags,
			&m.Merchant, &payee, &comment, &m.Changed); err != nil {
			return nil, storageErr("scan reminder marker", err)
		}
		m.Reminder = reminder.String
		m.Income = income.Float64
		m.Outcome = outcome.Float64
		m.IncomeAccount = incomeAcc.String
		m.OutcomeAccount = outcomeAcc.String
		m.Payee = payee.String
		m.Comment = comment.String
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), (*[]string)(&m.Tag)); err != nil {
				return nil, storageErr("decode tag list for marker "+m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Reminders returns all cached reminder templates.
func (s *Store) Reminders(ctx context.Context) ([]schema.Reminder, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, user, interval, step, start_date, end_date, income, outcome,
		       income_account, outcome_account, tag, merchant, payee, comment, notify, changed
		FROM reminders`)
	if err != nil {
		return nil, storageErr("list reminders", err)
	}
	defer rows.Close()

	var out []schema.Reminder
	for rows.Next() {
		var r schema.Reminder
		var income, outcome sql.NullFloat64
		var step sql.NullInt64
		var startDate, incomeAcc, outcomeAcc, tags, payee, comment sql.NullString
		var notify int
		if err := rows.Scan(&r.ID, &r.User, &r.Interval, &step, &startDate, &r.EndDate,
			&income, &outcome, &incomeAcc, &outcomeAcc, &tags,
			&r.Merchant, &payee, &comment, &notify, &r.Changed); err != nil {
			return nil, storageErr("scan reminder", err)
		}
		r.Step = step.Int64
		r.StartDate = startDate.String
		r.Income = income.Float64
		r.Outcome = outcome.Float64
		r.IncomeAccount = incomeAcc.String
		r.OutcomeAccount = outcomeAcc.String
		r.Payee = payee.String
		r.Comment = comment.String
		r.Notify = notify == 1
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), (*[]string)(&r.Tag)); err != nil {
				return nil, storageErr("decode tag list for reminder "+r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransactionTags returns the stored tag list for one transaction.
// The bool result distinguishes "no categories" from "unknown id".
func (s *Store) TransactionTags(ctx context.Context, id string) (schema.TagList, bool, error) {
	var tags sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT tag FROM transactions WHERE id = ?", id).Scan(&tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("transaction tags", err)
	}
	if !tags.Valid {
		return nil, true, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(tags.String), &list); err != nil {
		return nil, true, storageErr("decode tag list", err)
	}
	return schema.TagList(list), true, nil
}
