package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"campuswallet.org/internal/audit"
	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/ids"
	"campuswallet.org/internal/money"
	"campuswallet.org/internal/obs"
)

const (
	maxIDAttempts    = 5
	maxMessageLength = 255
	maxTitleLength   = 120
)

// WalletLedger applies balance-changing operations.
type WalletLedger interface {
	Transfer(ctx context.Context, senderID, receiverRef string, amount money.Amount, message string) (Entry, error)
	PayBill(ctx context.Context, payerID, billID, message string) (Entry, error)
}

// RequestLifecycle drives cash-in and cash-out requests through approval.
type RequestLifecycle interface {
	SubmitCashIn(ctx context.Context, accountID string, amount money.Amount, message string) (CashRequest, error)
	SubmitCashOut(ctx context.Context, accountID string, amount money.Amount, message string) (CashRequest, error)
	Approve(ctx context.Context, requestID string) (CashRequest, error)
	Decline(ctx context.Context, requestID, reason string) (CashRequest, error)
	List(ctx context.Context, f RequestFilter) ([]CashRequest, error)
}

// BillBoard posts organization bills and answers outstanding-bill queries.
type BillBoard interface {
	PostBill(ctx context.Context, orgAccountID, title, description string, amount money.Amount) (Bill, error)
	OutstandingBillsFor(ctx context.Context, payerID, search string) ([]Bill, error)
}

// TransactionHistory is the read-only projection over ledger entries.
type TransactionHistory interface {
	History(ctx context.Context, f EntryFilter) ([]HistoryEntry, error)
	BillPayments(ctx context.Context, orgAccountID, billTitle string, sortBy PaymentSort) ([]BillPayment, error)
}

// Accounts provisions and looks up accounts.
type Accounts interface {
	OpenAccount(ctx context.Context, holderRef string, kind AccountKind) (Account, error)
	EnsureOrganizationAccount(ctx context.Context, holderRef string) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	ResolveAccount(ctx context.Context, ref string) (AccountRef, error)
}

// Observer is told about every entry after its transaction commits.
type Observer interface {
	EntryCommitted(ctx context.Context, e Entry)
}

// Service is the ledger and request-lifecycle engine.
type Service struct {
	store    Store
	gateway  auth.Gateway
	ids      *ids.Generator
	observer Observer
	now      func() time.Time
}

var (
	_ WalletLedger       = (*Service)(nil)
	_ RequestLifecycle   = (*Service)(nil)
	_ BillBoard          = (*Service)(nil)
	_ TransactionHistory = (*Service)(nil)
	_ Accounts           = (*Service)(nil)
)

// Option configures Service.
type Option func(*Service)

// WithGateway sets how callers are identified. Defaults to auth.ContextGateway.
func WithGateway(g auth.Gateway) Option {
	return func(s *Service) {
		if g != nil {
			s.gateway = g
		}
	}
}

// WithObserver registers a post-commit observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the clock for timestamps and identifiers.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService returns an engine over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		gateway: auth.ContextGateway{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ids = ids.NewGenerator(s.now)
	return s
}

func (s *Service) authorize(ctx context.Context, act auth.Action, accountID string) (auth.Identity, error) {
	id, err := s.gateway.Identify(ctx)
	if err != nil {
		return auth.Identity{}, err
	}
	if err := auth.Authorize(id, act, accountID); err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}

// Transfer moves amount from senderID to the account receiverRef resolves to
// (an account id or a holder ref).
func (s *Service) Transfer(ctx context.Context, senderID, receiverRef string, amount money.Amount, message string) (entry Entry, err error) {
	defer func() { s.record("transfer", err) }()

	senderID = strings.TrimSpace(senderID)
	receiverRef = strings.TrimSpace(receiverRef)
	if !amount.IsPositive() {
		return Entry{}, ErrInvalidAmount
	}
	if message, err = cleanText(message, maxMessageLength); err != nil {
		return Entry{}, err
	}
	if receiverRef == "" {
		return Entry{}, ErrReceiverNotFound
	}
	if receiverRef == senderID {
		return Entry{}, ErrSelfTransfer
	}
	if _, err := s.authorize(ctx, auth.ActionTransfer, senderID); err != nil {
		return Entry{}, err
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		receiver, err := resolve(ctx, tx, receiverRef)
		if errors.Is(err, ErrAccountNotFound) {
			return ErrReceiverNotFound
		}
		if err != nil {
			return err
		}
		if receiver.ID == senderID {
			return ErrSelfTransfer
		}
		accts, err := tx.LockAccounts(ctx, senderID, receiver.ID)
		if err != nil {
			return err
		}
		if accts[senderID].Balance < amount {
			return ErrInsufficientFunds
		}
		if _, err := tx.AdjustBalance(ctx, senderID, -amount); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, receiver.ID, amount); err != nil {
			return err
		}
		entry, err = s.insertEntry(ctx, tx, Entry{
			SenderID:   senderID,
			ReceiverID: receiver.ID,
			Amount:     amount,
			Kind:       EntryTransfer,
			Message:    message,
		})
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.committed(ctx, entry, "ledger.transfer", nil)
	return entry, nil
}

// PayBill pays billID from payerID once. The bill's organization is credited.
func (s *Service) PayBill(ctx context.Context, payerID, billID, message string) (entry Entry, err error) {
	defer func() { s.record("pay_bill", err) }()

	payerID = strings.TrimSpace(payerID)
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return Entry{}, ErrBillNotFound
	}
	if message, err = cleanText(message, maxMessageLength); err != nil {
		return Entry{}, err
	}
	if _, err := s.authorize(ctx, auth.ActionPayBill, payerID); err != nil {
		return Entry{}, err
	}

	var bill Bill
	err = s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if bill, err = tx.Bill(ctx, billID); err != nil {
			return err
		}
		if bill.OrgAccountID == payerID {
			return ErrSelfTransfer
		}
		accts, err := tx.LockAccounts(ctx, payerID, bill.OrgAccountID)
		if err != nil {
			return err
		}
		paid, err := tx.HasBillPayment(ctx, bill.ID, payerID)
		if err != nil {
			return err
		}
		if paid {
			return ErrAlreadyPaid
		}
		if accts[payerID].Balance < bill.Amount {
			return ErrInsufficientFunds
		}
		if _, err := tx.AdjustBalance(ctx, payerID, -bill.Amount); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, bill.OrgAccountID, bill.Amount); err != nil {
			return err
		}
		entry, err = s.insertEntry(ctx, tx, Entry{
			SenderID:   payerID,
			ReceiverID: bill.OrgAccountID,
			BillID:     bill.ID,
			Amount:     bill.Amount,
			Kind:       EntryBillPayment,
			Message:    message,
		})
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.committed(ctx, entry, "ledger.bill_paid", map[string]any{"bill_title": bill.Title})
	return entry, nil
}

// settleCashIn credits the requester inside the approval transaction.
func (s *Service) settleCashIn(ctx context.Context, tx Tx, req CashRequest, approver auth.Identity) (Entry, error) {
	if _, err := tx.LockAccounts(ctx, req.AccountID); err != nil {
		return Entry{}, err
	}
	if _, err := tx.AdjustBalance(ctx, req.AccountID, req.Amount); err != nil {
		return Entry{}, err
	}
	return s.insertEntry(ctx, tx, Entry{
		ReceiverID: req.AccountID,
		Amount:     req.Amount,
		Kind:       EntryCashInSettlement,
		Message:    settlementMessage(req, approver),
	})
}

// settleCashOut debits the requester inside the approval transaction. The
// balance is checked again here since it may have dropped since submission.
func (s *Service) settleCashOut(ctx context.Context, tx Tx, req CashRequest, approver auth.Identity) (Entry, error) {
	accts, err := tx.LockAccounts(ctx, req.AccountID)
	if err != nil {
		return Entry{}, err
	}
	if accts[req.AccountID].Balance < req.Amount {
		return Entry{}, ErrInsufficientFunds
	}
	if _, err := tx.AdjustBalance(ctx, req.AccountID, -req.Amount); err != nil {
		return Entry{}, err
	}
	return s.insertEntry(ctx, tx, Entry{
		SenderID: req.AccountID,
		Amount:   req.Amount,
		Kind:     EntryCashOutSettlement,
		Message:  settlementMessage(req, approver),
	})
}

func settlementMessage(req CashRequest, approver auth.Identity) string {
	return fmt.Sprintf("%s approved by %s", req.ID, approver.Actor())
}

// insertEntry stamps e with a fresh id and time, retrying on id collision.
func (s *Service) insertEntry(ctx context.Context, tx Tx, e Entry) (Entry, error) {
	e.Status = EntryCompleted
	e.CreatedAt = s.now().UTC()
	err := withFreshID(s.ids, ids.PrefixTransaction, func(id string) error {
		e.ID = id
		return tx.InsertEntry(ctx, e)
	})
	return e, err
}

func withFreshID(gen *ids.Generator, prefix string, insert func(id string) error) error {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		err := insert(gen.Next(prefix))
		if errors.Is(err, ErrIDCollision) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrIDCollision, prefix, maxIDAttempts)
}

// resolve finds an account by id, falling back to the holder ref (personal first).
func resolve(ctx context.Context, r Reader, ref string) (Account, error) {
	a, err := r.Account(ctx, ref)
	if err == nil || !errors.Is(err, ErrAccountNotFound) {
		return a, err
	}
	a, err = r.AccountByHolder(ctx, ref, KindPersonal)
	if errors.Is(err, ErrAccountNotFound) {
		return r.AccountByHolder(ctx, ref, KindOrganization)
	}
	return a, err
}

func (s *Service) committed(ctx context.Context, e Entry, event string, extra map[string]any) {
	obs.AddSettled(string(e.Kind), e.Amount.Minor())
	fields := map[string]any{
		"tx_id":  e.ID,
		"kind":   string(e.Kind),
		"amount": e.Amount.String(),
	}
	if e.SenderID != "" {
		fields["sender_id"] = e.SenderID
	}
	if e.ReceiverID != "" {
		fields["receiver_id"] = e.ReceiverID
	}
	if e.BillID != "" {
		fields["bill_id"] = e.BillID
	}
	for k, v := range extra {
		fields[k] = v
	}
	audit.Record(ctx, event, fields)
	if s.observer != nil {
		s.observer.EntryCommitted(ctx, e)
	}
}

func (s *Service) record(op string, err error) {
	obs.ObserveOperation(op, Code(err))
	if err != nil && Code(err) == "internal" {
		obs.Logger().Error("ledger_operation_failed", zap.String("operation", op), zap.Error(err))
	}
}

func cleanText(s string, limit int) (string, error) {
	s = strings.TrimSpace(s)
	if len([]rune(s)) > limit {
		return "", fmt.Errorf("%w: text longer than %d characters", ErrInvalidInput, limit)
	}
	return s, nil
}
