package analytics

import "github.com/avolkov/zencache/internal/schema"

// TxKind classifies what a transaction's two monetary legs represent.
type TxKind string

const (
	KindIncome   TxKind = "income"
	KindOutcome  TxKind = "outcome"
	KindTransfer TxKind = "transfer"
	KindExchange TxKind = "exchange"
	KindDebtIn   TxKind = "debt_in"  // borrowed: money taken from a debt account
	KindDebtOut  TxKind = "debt_out" // lent: money given to a debt account
	KindUnknown  TxKind = "unknown"
)

// Classify determines the transaction kind from its legs and the accounts
// they touch. Both legs non-zero means money moved between accounts: a
// debt movement when exactly one side is a debt account, an exchange when
// the instruments differ, a plain transfer otherwise. Accounts missing
// from the map degrade gracefully since the feed is eventually consistent
// and references may not have arrived yet.
func Classify(tx *schema.Transaction, accounts map[string]schema.Account) TxKind {
	switch {
	case tx.Income > 0 && tx.Outcome == 0:
		return KindIncome
	case tx.Outcome > 0 && tx.Income == 0:
		return KindOutcome
	case tx.Income > 0 && tx.Outcome > 0:
		incomeAcc, okIn := accounts[tx.IncomeAccount]
		outcomeAcc, okOut := accounts[tx.OutcomeAccount]
		if okIn && okOut {
			incomeIsDebt := incomeAcc.Type == schema.AccountDebt
			outcomeIsDebt := outcomeAcc.Type == schema.AccountDebt
			if incomeIsDebt && !outcomeIsDebt {
				return KindDebtOut
			}
			if outcomeIsDebt && !incomeIsDebt {
				return KindDebtIn
			}
		}
		if tx.IncomeInstrument != tx.OutcomeInstrument {
			return KindExchange
		}
		return KindTransfer
	}
	return KindUnknown
}

// IsTransfer reports whether both legs are non-zero. Used to exclude
// internal money movement from spending and income aggregations.
func IsTransfer(tx *schema.Transaction) bool {
	return tx.Income > 0 && tx.Outcome > 0
}

// IsPureExpense reports whether only the outcome leg is set.
func IsPureExpense(tx *schema.Transaction) bool {
	return tx.Outcome > 0 && tx.Income == 0
}

// IsPureIncome reports whether only the income leg is set.
func IsPureIncome(tx *schema.Transaction) bool {
	return tx.Income > 0 && tx.Outcome == 0
}
