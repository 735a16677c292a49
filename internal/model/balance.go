package model

import "time"

// CreditBalance is the per-user spendable balance plus its audit counters.
type CreditBalance struct {
	UserID         string    `json:"user_id"`
	Credit         int64     `json:"credit"`
	LifetimeEarned int64     `json:"lifetime_earned"`
	LifetimeSpent  int64     `json:"lifetime_spent"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Consistent reports whether the accounting identity holds.
func (b *CreditBalance) Consistent() bool {
	return b.Credit >= 0 && b.Credit == b.LifetimeEarned-b.LifetimeSpent
}

// TransactionKind tags a row of the credit transaction log.
type TransactionKind string

const (
	TransactionGrant  TransactionKind = "grant"
	TransactionDebit  TransactionKind = "debit"
	TransactionRefund TransactionKind = "refund"
)
