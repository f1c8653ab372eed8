// Package schema defines the wire records carried by the ZenMoney diff
// protocol.
//
// Each entity type from the diff payload is decoded once, at the sync
// boundary, into an explicit struct with defined defaults. Nothing past the
// applier ever sees loosely-typed JSON maps.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Account types as reported by the server.
const (
	AccountCash     = "cash"
	AccountCard     = "ccard"
	AccountChecking = "checking"
	AccountLoan     = "loan"
	AccountDeposit  = "deposit"
	AccountEMoney   = "emoney"
	AccountDebt     = "debt"
)

// Reminder marker states.
const (
	MarkerPlanned   = "planned"
	MarkerProcessed = "processed"
	MarkerDeleted   = "deleted"
)

// TagList is an ordered list of category IDs. The wire format is sloppy:
// the field may be null, a single UUID string, or an array of UUID strings.
// All three decode into a TagList; order is preserved because the first
// element is the primary category used by every aggregation.
type TagList []string

// UnmarshalJSON accepts null, a scalar string, or an array of strings.
func (t *TagList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TagList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("tag list must be null, string, or array of strings: %w", err)
	}
	*t = TagList(many)
	return nil
}

// MarshalJSON always emits an array, never the scalar shorthand.
func (t TagList) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	return json.Marshal([]string(t))
}

// Primary returns the first category ID, the one aggregations attribute
// the whole record to.
func (t TagList) Primary() (string, bool) {
	if len(t) == 0 {
		return "", false
	}
	return t[0], true
}

// EntityID is an entity identifier that arrives either as a JSON string
// (UUID-keyed entities) or as a JSON number (instrument/company/user).
// It is normalized to its string form; SQLite column affinity converts it
// back for integer-keyed tables.
type EntityID string

func (id *EntityID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = EntityID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or integer: %w", err)
	}
	*id = EntityID(strconv.FormatInt(n, 10))
	return nil
}

func (id EntityID) String() string { return string(id) }

// Instrument is a currency reference entity. Rate is the cost of one unit
// in the server's fixed reference currency; latest value wins.
type Instrument struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	ShortTitle string  `json:"shortTitle"`
	Symbol     string  `json:"symbol"`
	Rate       float64 `json:"rate"`
	Changed    int64   `json:"changed"`
}

func (i *Instrument) Validate() error {
	if i.ID == 0 {
		return fmt.Errorf("instrument: id is required")
	}
	return nil
}

// Company is a bank or service provider reference entity.
type Company struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Country string `json:"country"`
	Changed int64  `json:"changed"`
}

func (c *Company) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("company: id is required")
	}
	return nil
}

// User holds the account owner; Currency points at the instrument all
// analytics convert into. Parent is nil for the primary user.
type User struct {
	ID       int64  `json:"id"`
	Login    string `json:"login"`
	Currency int64  `json:"currency"`
	Parent   *int64 `json:"parent"`
	Changed  int64  `json:"changed"`
}

func (u *User) Validate() error {
	if u.ID == 0 {
		return fmt.Errorf("user: id is required")
	}
	return nil
}

// Account is a money holder. InBalance is a pointer because the wire
// default is true when the field is absent.
type Account struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Instrument  int64    `json:"instrument"`
	Company     *int64   `json:"company"`
	Balance     float64  `json:"balance"`
	CreditLimit *float64 `json:"creditLimit"`
	InBalance   *bool    `json:"inBalance"`
	Savings     bool     `json:"savings"`
	Archive     bool     `json:"archive"`
	User        int64    `json:"user"`
	Role        *int64   `json:"role"`
	Changed     int64    `json:"changed"`
}

// CountedInBalance reports whether the account participates in aggregate
// balance. Absent on the wire means true.
func (a *Account) CountedInBalance() bool {
	return a.InBalance == nil || *a.InBalance
}

func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account: id is required")
	}
	return nil
}

// Tag is a category. Parent forms at most one level of nesting.
type Tag struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Parent        *string `json:"parent"`
	ShowIncome    bool    `json:"showIncome"`
	ShowOutcome   bool    `json:"showOutcome"`
	BudgetIncome  bool    `json:"budgetIncome"`
	BudgetOutcome bool    `json:"budgetOutcome"`
	Required      bool    `json:"required"`
	User          int64   `json:"user"`
	Changed       int64   `json:"changed"`
}

func (t *Tag) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tag: id is required")
	}
	return nil
}

// Merchant is a normalized payee identity.
type Merchant struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	User    int64  `json:"user"`
	Changed int64  `json:"changed"`
}

func (m *Merchant) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("merchant: id is required")
	}
	return nil
}

// Transaction carries two independent monetary legs. Both legs non-zero
// means transfer, exchange, or debt movement depending on the accounts
// involved. Deleted rows stay in the cache until a hard deletion entry
// removes them.
type Transaction struct {
	ID                  string   `json:"id"`
	Date                string   `json:"date"` // YYYY-MM-DD
	User                int64    `json:"user"`
	Deleted             bool     `json:"deleted"`
	Hold                bool     `json:"hold"`
	Income              float64  `json:"income"`
	IncomeInstrument    int64    `json:"incomeInstrument"`
	IncomeAccount       string   `json:"incomeAccount"`
	Outcome             float64  `json:"outcome"`
	OutcomeInstrument   int64    `json:"outcomeInstrument"`
	OutcomeAccount      string   `json:"outcomeAccount"`
	Tag                 TagList  `json:"tag"`
	Merchant            *string  `json:"merchant"`
	Payee               string   `json:"payee"`
	OriginalPayee       string   `json:"originalPayee"`
	Comment             string   `json:"comment"`
	MCC                 *int64   `json:"mcc"`
	OpIncome            *float64 `json:"opIncome"`
	OpIncomeInstrument  *int64   `json:"opIncomeInstrument"`
	OpOutcome           *float64 `json:"opOutcome"`
	OpOutcomeInstrument *int64   `json:"opOutcomeInstrument"`
	Latitude            *float64 `json:"latitude"`
	Longitude           *float64 `json:"longitude"`
	ReminderMarker      *string  `json:"reminderMarker"`
	Created             int64    `json:"created"`
	Changed             int64    `json:"changed"`
}

func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction: id is required")
	}
	return nil
}

// Budget is keyed by (tag, month, user); it has no id of its own.
// Tag is nil for "no category"; a lock flag means the planned figure is
// authoritative and must not be augmented by forecast data.
type Budget struct {
	User        int64   `json:"user"`
	Tag         *string `json:"tag"`
	Date        string  `json:"date"` // first day of month, YYYY-MM-DD
	Income      float64 `json:"income"`
	IncomeLock  bool    `json:"incomeLock"`
	Outcome     float64 `json:"outcome"`
	OutcomeLock bool    `json:"outcomeLock"`
	Changed     int64   `json:"changed"`
}

func (b *Budget) Validate() error {
	if b.Date == "" {
		return fmt.Errorf("budget: date is required")
	}
	return nil
}

// Reminder is a recurrence template. Interval is nil for one-off reminders.
type Reminder struct {
	ID             string  `json:"id"`
	User           int64   `json:"user"`
	Interval       *string `json:"interval"` // day, week, month, year
	Step           int64   `json:"step"`
	StartDate      string  `json:"startDate"`
	EndDate        *string `json:"endDate"`
	Income         float64 `json:"income"`
	Outcome        float64 `json:"outcome"`
	IncomeAccount  string  `json:"incomeAccount"`
	OutcomeAccount string  `json:"outcomeAccount"`
	Tag            TagList `json:"tag"`
	Merchant       *string `json:"merchant"`
	Payee          string  `json:"payee"`
	Comment        string  `json:"comment"`
	Notify         bool    `json:"notify"`
	Changed        int64   `json:"changed"`
}

func (r *Reminder) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("reminder: id is required")
	}
	return nil
}

// ReminderMarker is one expected real-world payment event materialized
// from a Reminder.
type ReminderMarker struct {
	ID             string  `json:"id"`
	User           int64   `json:"user"`
	Reminder       string  `json:"reminder"`
	Date           string  `json:"date"`
	State          string  `json:"state"`
	Income         float64 `json:"income"`
	Outcome        float64 `json:"outcome"`
	IncomeAccount  string  `json:"incomeAccount"`
	OutcomeAccount string  `json:"outcomeAccount"`
	Tag            TagList `json:"tag"`
	Merchant       *string `json:"merchant"`
	Payee          string  `json:"payee"`
	Comment        string  `json:"comment"`
	Changed        int64   `json:"changed"`
}

func (m *ReminderMarker) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("reminder marker: id is required")
	}
	return nil
}
