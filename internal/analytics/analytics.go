// Package analytics provides read-only reports over the synced entity
// cache.
//
// Everything here is a stateless consumer of the store: no method writes,
// and none assumes freshness: reports operate on possibly stale data and
// expose staleness through SyncStatus. Money math runs on decimals and is
// converted into the primary user's home currency through instrument
// rates.
package analytics

import (
	"context"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/zencache/internal/schema"
	"github.com/avolkov/zencache/internal/store"
)

// Service answers analytical queries against a store.
type Service struct {
	store  *store.Store
	logger *log.Logger
	now    func() time.Time
}

// New creates an analytics service. If logger is nil, a default stderr
// logger is used.
func New(st *store.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[analytics] ", log.LstdFlags)
	}
	return &Service{store: st, logger: logger, now: time.Now}
}

// convert translates an amount from an instrument's currency into the
// user's home currency: amount * rate / userRate, both rates being the
// cost of one unit in the server's reference currency.
func (s *Service) convert(ctx context.Context, amount float64, instrument, userCurrency int64) (decimal.Decimal, error) {
	value := decimal.NewFromFloat(amount)
	if userCurrency == 0 || instrument == userCurrency {
		return value, nil
	}
	rate, err := s.store.InstrumentRate(ctx, instrument)
	if err != nil {
		return decimal.Zero, err
	}
	userRate, err := s.store.InstrumentRate(ctx, userCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	return value.Mul(decimal.NewFromFloat(rate)).Div(decimal.NewFromFloat(userRate)), nil
}

// AccountBalance is one account's contribution to net worth, converted to
// the home currency.
type AccountBalance struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Balance   float64 `json:"balance"`
	Converted float64 `json:"converted"`
	Savings   bool    `json:"savings"`
}

// NetWorthReport aggregates balances of active in-balance accounts.
type NetWorthReport struct {
	Total        float64          `json:"total"`
	Liquid       float64          `json:"liquid"`
	Savings      float64          `json:"savings"`
	Debt         float64          `json:"debt"`
	CurrencyID   int64            `json:"currency_id"`
	Accounts     []AccountBalance `json:"accounts"`
	ExcludedArch int              `json:"excluded_archived"`
}

// NetWorth sums every non-archived account that is counted in balance,
// converted to the home currency. Debt accounts are reported separately
// and netted into the total.
func (s *Service) NetWorth(ctx context.Context) (*NetWorthReport, error) {
	userCurrency, err := s.store.UserCurrency(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	report := &NetWorthReport{CurrencyID: userCurrency}
	total := decimal.Zero
	liquid := decimal.Zero
	savings := decimal.Zero
	debt := decimal.Zero

	for _, a := range accounts {
		if a.Archive {
			report.ExcludedArch++
			continue
		}
		if !a.CountedInBalance() {
			continue
		}
		converted, err := s.convert(ctx, a.Balance, a.Instrument, userCurrency)
		if err != nil {
			return nil, err
		}
		report.Accounts = append(report.Accounts, AccountBalance{
			ID:        a.ID,
			Title:     a.Title,
			Type:      a.Type,
			Balance:   a.Balance,
			Converted: converted.InexactFloat64(),
			Savings:   a.Savings,
		})
		total = total.Add(converted)
		switch {
		case a.Type == schema.AccountDebt:
			debt = debt.Add(converted)
		case a.Savings:
			savings = savings.Add(converted)
		default:
			liquid = liquid.Add(converted)
		}
	}

	report.Total = total.InexactFloat64()
	report.Liquid = liquid.InexactFloat64()
	report.Savings = savings.InexactFloat64()
	report.Debt = debt.InexactFloat64()
	return report, nil
}

// CategoryTotal is one category's share of a flow breakdown.
type CategoryTotal struct {
	TagID string  `json:"tag_id,omitempty"`
	Title string  `json:"title"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// FlowReport breaks down spending or income by primary category over a
// period.
type FlowReport struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Total      float64         `json:"total"`
	Categories []CategoryTotal `json:"categories"`
}

// Spending breaks down pure expenses by primary category. Holds,
// soft-deleted rows, and transfers are excluded; amounts are converted to
// the home currency. Categories are sorted by descending total.
func (s *Service) Spending(ctx context.Context, period string) (*FlowReport, error) {
	from, to, err := PeriodRange(s.now(), period)
	if err != nil {
		return nil, err
	}
	return s.flow(ctx, from, to, false)
}

// Income breaks down pure income by primary category under the same
// exclusions as Spending.
func (s *Service) Income(ctx context.Context, period string) (*FlowReport, error) {
	from, to, err := PeriodRange(s.now(), period)
	if err != nil {
		return nil, err
	}
	return s.flow(ctx, from, to, true)
}

// SpendingBetween is Spending over an explicit [from, to] date range.
func (s *Service) SpendingBetween(ctx context.Context, from, to string) (*FlowReport, error) {
	return s.flow(ctx, from, to, false)
}

// IncomeBetween is Income over an explicit [from, to] date range.
func (s *Service) IncomeBetween(ctx context.Context, from, to string) (*FlowReport, error) {
	return s.flow(ctx, from, to, true)
}

func (s *Service) flow(ctx context.Context, from, to string, income bool) (*FlowReport, error) {
	userCurrency, err := s.store.UserCurrency(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.TransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	tagTitles, err := s.tagTitles(ctx)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		total decimal.Decimal
		count int
	}
	buckets := make(map[string]*bucket)
	total := decimal.Zero

	for i := range txs {
		tx := &txs[i]
		if tx.Hold {
			continue
		}
		var amount float64
		var instrument int64
		if income {
			if !IsPureIncome(tx) {
				continue
			}
			amount, instrument = tx.Income, tx.IncomeInstrument
		} else {
			if !IsPureExpense(tx) {
				continue
			}
			amount, instrument = tx.Outcome, tx.OutcomeInstrument
		}
		converted, err := s.convert(ctx, amount, instrument, userCurrency)
		if err != nil {
			return nil, err
		}
		key, _ := tx.Tag.Primary()
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		b.total = b.total.Add(converted)
		b.count++
		total = total.Add(converted)
	}

	report := &FlowReport{From: from, To: to, Total: total.InexactFloat64()}
	for tagID, b := range buckets {
		title := tagTitles[tagID]
		if tagID == "" {
			title = "(uncategorized)"
		}
		report.Categories = append(report.Categories, CategoryTotal{
			TagID: tagID,
			Title: title,
			Total: b.total.InexactFloat64(),
			Count: b.count,
		})
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		return report.Categories[i].Total > report.Categories[j].Total
	})
	return report, nil
}

func (s *Service) tagTitles(ctx context.Context) (map[string]string, error) {
	tags, err := s.store.Tags(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(tags))
	for _, t := range tags {
		titles[t.ID] = t.Title
	}
	return titles, nil
}

// BudgetLine compares one category's plan against actuals for a month.
type BudgetLine struct {
	TagID       string  `json:"tag_id,omitempty"`
	Title       string  `json:"title"`
	Planned     float64 `json:"planned"`
	Actual      float64 `json:"actual"`
	Remaining   float64 `json:"remaining"`
	Locked      bool    `json:"locked"`
	OverBudget  bool    `json:"over_budget"`
	UsedPercent float64 `json:"used_percent"`
}

// BudgetReport summarizes budget health for one month.
type BudgetReport struct {
	Month   string       `json:"month"`
	Outcome []BudgetLine `json:"outcome"`
	Income  []BudgetLine `json:"income"`
}

// BudgetHealth compares planned versus actual flows per category for the
// month containing refDate (YYYY-MM-DD; "" means the current month).
// A locked plan is authoritative as-is; unlocked zero plans are reported
// only when actuals exist.
func (s *Service) BudgetHealth(ctx context.Context, refDate string) (*BudgetReport, error) {
	ref := s.now()
	if refDate != "" {
		parsed, err := time.Parse(dateLayout, refDate)
		if err != nil {
			return nil, err
		}
		ref = parsed
	}
	monthStart := MonthStart(ref)
	monthEnd := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location()).
		AddDate(0, 1, -1).Format(dateLayout)

	budgets, err := s.store.BudgetsForMonth(ctx, monthStart)
	if err != nil {
		return nil, err
	}
	userCurrency, err := s.store.UserCurrency(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.TransactionsBetween(ctx, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	tagTitles, err := s.tagTitles(ctx)
	if err != nil {
		return nil, err
	}

	actualOut := make(map[string]decimal.Decimal)
	actualIn := make(map[string]decimal.Decimal)
	for i := range txs {
		tx := &txs[i]
		if tx.Hold || IsTransfer(tx) {
			continue
		}
		key, _ := tx.Tag.Primary()
		if IsPureExpense(tx) {
			converted, err := s.convert(ctx, tx.Outcome, tx.OutcomeInstrument, userCurrency)
			if err != nil {
				return nil, err
			}
			actualOut[key] = actualOut[key].Add(converted)
		} else if IsPureIncome(tx) {
			converted, err := s.convert(ctx, tx.Income, tx.IncomeInstrument, userCurrency)
			if err != nil {
				return nil, err
			}
			actualIn[key] = actualIn[key].Add(converted)
		}
	}

	report := &BudgetReport{Month: monthStart}
	for _, b := range budgets {
		key := ""
		if b.Tag != nil {
			key = *b.Tag
		}
		title := tagTitles[key]
		if key == "" {
			title = "(uncategorized)"
		}
		if b.Outcome > 0 || b.OutcomeLock {
			report.Outcome = append(report.Outcome, budgetLine(key, title, b.Outcome, actualOut[key], b.OutcomeLock))
		}
		if b.Income > 0 || b.IncomeLock {
			report.Income = append(report.Income, budgetLine(key, title, b.Income, actualIn[key], b.IncomeLock))
		}
	}
	sort.Slice(report.Outcome, func(i, j int) bool { return report.Outcome[i].Actual > report.Outcome[j].Actual })
	sort.Slice(report.Income, func(i, j int) bool { return report.Income[i].Actual > report.Income[j].Actual })
	return report, nil
}

func budgetLine(tagID, title string, planned float64, actual decimal.Decimal, locked bool) BudgetLine {
	actualF := actual.InexactFloat64()
	line := BudgetLine{
		TagID:     tagID,
		Title:     title,
		Planned:   planned,
		Actual:    actualF,
		Remaining: planned - actualF,
		Locked:    locked,
	}
	if planned > 0 {
		line.UsedPercent = actualF / planned * 100
		line.OverBudget = actualF > planned
	}
	return line
}

// UpcomingPayment is one expected payment event within the lookahead
// window.
type UpcomingPayment struct {
	MarkerID string  `json:"marker_id"`
	Date     string  `json:"date"`
	Payee    string  `json:"payee"`
	Income   float64 `json:"income"`
	Outcome  float64 `json:"outcome"`
	TagID    string  `json:"tag_id,omitempty"`
}

// UpcomingPayments lists planned reminder markers within the next `days`
// days, the recurring-payment view materialized by the server from
// reminder templates.
func (s *Service) UpcomingPayments(ctx context.Context, days int) ([]UpcomingPayment, error) {
	if days <= 0 {
		days = 30
	}
	today := s.now().Format(dateLayout)
	until := s.now().AddDate(0, 0, days).Format(dateLayout)

	markers, err := s.store.PlannedMarkersBetween(ctx, today, until)
	if err != nil {
		return nil, err
	}
	out := make([]UpcomingPayment, 0, len(markers))
	for _, m := range markers {
		tagID, _ := m.Tag.Primary()
		out = append(out, UpcomingPayment{
			MarkerID: m.ID,
			Date:     m.Date,
			Payee:    m.Payee,
			Income:   m.Income,
			Outcome:  m.Outcome,
			TagID:    tagID,
		})
	}
	return out, nil
}

// Anomaly is one transaction flagged as unusually large for its category.
type Anomaly struct {
	TransactionID string  `json:"transaction_id"`
	Date          string  `json:"date"`
	TagID         string  `json:"tag_id,omitempty"`
	Amount        float64 `json:"amount"`
	CategoryMean  float64 `json:"category_mean"`
	Deviations    float64 `json:"deviations"`
}

// Anomalies flags pure expenses more than sigma standard deviations above
// their category's mean within the period. Categories with fewer than
// three samples are skipped since the deviation is meaningless there.
func (s *Service) Anomalies(ctx context.Context, period string, sigma float64) ([]Anomaly, error) {
	if sigma <= 0 {
		sigma = 2.0
	}
	from, to, err := PeriodRange(s.now(), period)
	if err != nil {
		return nil, err
	}
	userCurrency, err := s.store.UserCurrency(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.TransactionsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	type sample struct {
		tx     *schema.Transaction
		amount float64
	}
	byTag := make(map[string][]sample)
	for i := range txs {
		tx := &txs[i]
		if tx.Hold || !IsPureExpense(tx) {
			continue
		}
		converted, err := s.convert(ctx, tx.Outcome, tx.OutcomeInstrument, userCurrency)
		if err != nil {
			return nil, err
		}
		key, _ := tx.Tag.Primary()
		byTag[key] = append(byTag[key], sample{tx: tx, amount: converted.InexactFloat64()})
	}

	var anomalies []Anomaly
	for tagID, samples := range byTag {
		if len(samples) < 3 {
			continue
		}
		var sum float64
		for _, s := range samples {
			sum += s.amount
		}
		mean := sum / float64(len(samples))
		var variance float64
		for _, s := range samples {
			variance += (s.amount - mean) * (s.amount - mean)
		}
		stddev := math.Sqrt(variance / float64(len(samples)))
		if stddev == 0 {
			continue
		}
		for _, s := range samples {
			dev := (s.amount - mean) / stddev
			if dev > sigma {
				anomalies = append(anomalies, Anomaly{
					TransactionID: s.tx.ID,
					Date:          s.tx.Date,
					TagID:         tagID,
					Amount:        s.amount,
					CategoryMean:  mean,
					Deviations:    dev,
				})
			}
		}
	}
	sort.Slice(anomalies, func(i, j int) bool { return anomalies[i].Deviations > anomalies[j].Deviations })
	return anomalies, nil
}

// SyncStatus reports cache freshness.
type SyncStatus struct {
	Watermark    int64  `json:"watermark"`
	LastSyncTime int64  `json:"last_sync_time"`
	StaleSeconds int64  `json:"stale_seconds"`
	NeverSynced  bool   `json:"never_synced"`
	DBPath       string `json:"db_path"`
}

// Status returns the last applied watermark and how stale the cache is.
func (s *Service) Status(ctx context.Context) (*SyncStatus, error) {
	watermark, err := s.store.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	lastSync, err := s.store.LastSyncTime(ctx)
	if err != nil {
		return nil, err
	}
	status := &SyncStatus{
		Watermark:    watermark,
		LastSyncTime: lastSync,
		NeverSynced:  watermark == 0,
		DBPath:       s.store.Path(),
	}
	if lastSync > 0 {
		status.StaleSeconds = s.now().Unix() - lastSync
	}
	return status, nil
}
