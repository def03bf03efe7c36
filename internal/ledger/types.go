package ledger

import (
	"time"

	"campuswallet.org/internal/money"
)

// AccountKind distinguishes individual wallets from organization wallets.
type AccountKind string

const (
	KindPersonal     AccountKind = "personal"
	KindOrganization AccountKind = "organization"
)

func (k AccountKind) Valid() bool { return k == KindPersonal || k == KindOrganization }

// EntryKind is the kind of money movement a ledger entry records.
type EntryKind string

const (
	EntryTransfer          EntryKind = "transfer"
	EntryBillPayment       EntryKind = "bill_payment"
	EntryCashInSettlement  EntryKind = "cash_in_settlement"
	EntryCashOutSettlement EntryKind = "cash_out_settlement"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryTransfer, EntryBillPayment, EntryCashInSettlement, EntryCashOutSettlement:
		return true
	}
	return false
}

// EntryCompleted is the only status an entry is ever written with.
const EntryCompleted = "completed"

// Direction of a cash request.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

// RequestStatus is pending until an approver moves it to a terminal state.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// Account is a wallet holder's balance record. Balance never goes negative.
type Account struct {
	ID        string       `json:"id"`
	HolderRef string       `json:"holder_ref"`
	Kind      AccountKind  `json:"kind"`
	Balance   money.Amount `json:"balance"`
	CreatedAt time.Time    `json:"created_at"`
}

// AccountRef is the public part of an account, safe to show to any caller.
type AccountRef struct {
	ID        string      `json:"id"`
	HolderRef string      `json:"holder_ref"`
	Kind      AccountKind `json:"kind"`
}

func (a Account) Ref() AccountRef {
	return AccountRef{ID: a.ID, HolderRef: a.HolderRef, Kind: a.Kind}
}

// Entry is an immutable record of one completed money movement.
// SenderID is empty for cash-in settlements, ReceiverID for cash-out settlements.
type Entry struct {
	ID         string       `json:"id"`
	SenderID   string       `json:"sender_id,omitempty"`
	ReceiverID string       `json:"receiver_id,omitempty"`
	BillID     string       `json:"bill_id,omitempty"`
	Amount     money.Amount `json:"amount"`
	Kind       EntryKind    `json:"kind"`
	Message    string       `json:"message,omitempty"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// CashRequest asks finance to add funds to, or withdraw funds from, an account.
type CashRequest struct {
	ID            string        `json:"id"`
	AccountID     string        `json:"account_id"`
	HolderRef     string        `json:"holder_ref,omitempty"`
	Direction     Direction     `json:"direction"`
	Amount        money.Amount  `json:"amount"`
	Status        RequestStatus `json:"status"`
	Message       string        `json:"message,omitempty"`
	DeclineReason string        `json:"decline_reason,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy   string        `json:"processed_by,omitempty"`
	SettlementID  string        `json:"settlement_id,omitempty"`
}

// Bill is an organization-issued charge. Paid state per payer is derived from entries.
type Bill struct {
	ID           string       `json:"id"`
	OrgAccountID string       `json:"org_account_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Amount       money.Amount `json:"amount"`
	CreatedAt    time.Time    `json:"created_at"`
}

// BillPayment is a bill-payment entry joined with its bill and payer.
type BillPayment struct {
	Entry
	BillTitle      string `json:"bill_title"`
	PayerHolderRef string `json:"payer_holder_ref"`
}

// HistoryEntry is an entry as seen from one account.
type HistoryEntry struct {
	Entry
	// Direction is "incoming" or "outgoing" relative to the filtered account; empty otherwise.
	Direction string `json:"direction,omitempty"`
}
