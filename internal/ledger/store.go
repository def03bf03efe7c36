package ledger

import (
	"context"
	"time"

	"campuswallet.org/internal/money"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// EntryFilter selects ledger entries. Zero fields do not filter.
type EntryFilter struct {
	// AccountID matches entries the account sent or received.
	AccountID string
	// OrgAccountID matches bill payments made against the organization's bills.
	OrgAccountID string
	// SenderID matches entries sent by this account id or by the account
	// holding this reference.
	SenderID string
	// BillTitle is a case-insensitive substring of the referenced bill's title.
	BillTitle string
	Kind      EntryKind
	// IDSearch is a case-insensitive substring of the entry id.
	IDSearch string
	// From is inclusive, To exclusive.
	From, To time.Time
	Limit    int
}

// RequestFilter selects cash requests. Zero fields do not filter.
type RequestFilter struct {
	AccountID string
	Status    RequestStatus
	Direction Direction
	// Search is a case-insensitive substring of the request id or the holder ref.
	Search string
	Limit  int
}

// Reader is the read side of the store. Implementations must serve every call
// made within one Snapshot from a single consistent view.
type Reader interface {
	Account(ctx context.Context, id string) (Account, error)
	AccountByHolder(ctx context.Context, holderRef string, kind AccountKind) (Account, error)
	Bill(ctx context.Context, id string) (Bill, error)
	CashRequest(ctx context.Context, id string) (CashRequest, error)
	// Entries returns matching entries newest first.
	Entries(ctx context.Context, f EntryFilter) ([]Entry, error)
	// CashRequests returns matching requests by requested date, newest first.
	CashRequests(ctx context.Context, f RequestFilter) ([]CashRequest, error)
	// OutstandingBills returns bills the payer has no completed payment for, newest first.
	OutstandingBills(ctx context.Context, payerID, search string) ([]Bill, error)
	// BillPayments returns payments on the organization's bills, newest first.
	BillPayments(ctx context.Context, orgAccountID, billTitle string) ([]BillPayment, error)
	HasBillPayment(ctx context.Context, billID, payerID string) (bool, error)
}

// Tx is one atomic unit of work. Nothing written through a Tx is visible to
// others until the enclosing Atomic call returns nil.
type Tx interface {
	Reader
	// LockAccounts locks the accounts for update in a deterministic order and
	// returns them by id. A missing id yields ErrAccountNotFound.
	LockAccounts(ctx context.Context, ids ...string) (map[string]Account, error)
	// LockCashRequest locks the request for update.
	LockCashRequest(ctx context.Context, id string) (CashRequest, error)
	// AdjustBalance adds delta and returns the new balance. A result below zero
	// yields ErrInsufficientFunds.
	AdjustBalance(ctx context.Context, accountID string, delta money.Amount) (money.Amount, error)
	// InsertEntry yields ErrIDCollision for a taken id and ErrAlreadyPaid for a
	// second payment of the same bill by the same payer.
	InsertEntry(ctx context.Context, e Entry) error
	InsertCashRequest(ctx context.Context, r CashRequest) error
	// UpdateCashRequest writes a terminal state. It yields ErrRequestAlreadyProcessed
	// unless the stored request is still pending.
	UpdateCashRequest(ctx context.Context, r CashRequest) error
	InsertBill(ctx context.Context, b Bill) error
	// InsertAccount yields ErrAccountExists for a taken (holder ref, kind).
	InsertAccount(ctx context.Context, a Account) error
}

// Store runs units of work against durable state.
type Store interface {
	// Atomic runs fn in a transaction, committing only when fn returns nil.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Snapshot runs fn against a consistent read-only view.
	Snapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return n
}

// Normalize applies default and maximum limits.
func (f EntryFilter) Normalize() EntryFilter {
	f.Limit = clampLimit(f.Limit)
	return f
}

// Normalize applies default and maximum limits.
func (f RequestFilter) Normalize() RequestFilter {
	f.Limit = clampLimit(f.Limit)
	return f
}
