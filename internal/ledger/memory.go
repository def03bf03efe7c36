package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"campuswallet.org/internal/money"
)

type holderKey struct {
	ref  string
	kind AccountKind
}

type billPayer struct {
	bill, payer string
}

type memState struct {
	accounts map[string]Account
	holders  map[holderKey]string
	bills    map[string]Bill
	requests map[string]CashRequest
	entries  []Entry
	entryIDs map[string]struct{}
	paid     map[billPayer]string
}

func newMemState() *memState {
	return &memState{
		accounts: make(map[string]Account),
		holders:  make(map[holderKey]string),
		bills:    make(map[string]Bill),
		requests: make(map[string]CashRequest),
		entryIDs: make(map[string]struct{}),
		paid:     make(map[billPayer]string),
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		accounts: make(map[string]Account, len(s.accounts)),
		holders:  make(map[holderKey]string, len(s.holders)),
		bills:    make(map[string]Bill, len(s.bills)),
		requests: make(map[string]CashRequest, len(s.requests)),
		entries:  make([]Entry, len(s.entries), len(s.entries)+4),
		entryIDs: make(map[string]struct{}, len(s.entryIDs)),
		paid:     make(map[billPayer]string, len(s.paid)),
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.holders {
		out.holders[k] = v
	}
	for k, v := range s.bills {
		out.bills[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	copy(out.entries, s.entries)
	for k := range s.entryIDs {
		out.entryIDs[k] = struct{}{}
	}
	for k, v := range s.paid {
		out.paid[k] = v
	}
	return out
}

// InMemory implements Store with in-process concurrency safety. Writers are
// serialized; each Atomic call works on a private copy that replaces the
// shared state only on success.
type InMemory struct {
	mu sync.RWMutex
	st *memState
}

// NewInMemory creates a fresh store.
func NewInMemory() *InMemory {
	return &InMemory{st: newMemState()}
}

func (m *InMemory) Atomic(ctx context.Context, fn func(context.Context, Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.st.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		// caller gave up before commit; discard like a rolled back transaction
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.st = work
	return nil
}

func (m *InMemory) Snapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(ctx, &memTx{st: m.st})
}

type memTx struct {
	st *memState
}

func (t *memTx) Account(_ context.Context, id string) (Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (t *memTx) AccountByHolder(_ context.Context, holderRef string, kind AccountKind) (Account, error) {
	id, ok := t.st.holders[holderKey{ref: holderRef, kind: kind}]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return t.st.accounts[id], nil
}

func (t *memTx) Bill(_ context.Context, id string) (Bill, error) {
	b, ok := t.st.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return b, nil
}

func (t *memTx) CashRequest(_ context.Context, id string) (CashRequest, error) {
	r, ok := t.st.requests[id]
	if !ok {
		return CashRequest{}, ErrRequestNotFound
	}
	r.HolderRef = t.st.accounts[r.AccountID].HolderRef
	return r, nil
}

func (t *memTx) Entries(_ context.Context, f EntryFilter) ([]Entry, error) {
	f = f.Normalize()
	out := make([]Entry, 0)
	for i := len(t.st.entries) - 1; i >= 0 && len(out) < f.Limit; i-- {
		e := t.st.entries[i]
		if t.matchEntry(e, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) matchEntry(e Entry, f EntryFilter) bool {
	if f.AccountID != "" && e.SenderID != f.AccountID && e.ReceiverID != f.AccountID {
		return false
	}
	if f.SenderID != "" && e.SenderID != f.SenderID && t.st.accounts[e.SenderID].HolderRef != f.SenderID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.IDSearch != "" && !containsFold(e.ID, f.IDSearch) {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	if f.OrgAccountID != "" || f.BillTitle != "" {
		b, ok := t.st.bills[e.BillID]
		if !ok {
			return false
		}
		if f.OrgAccountID != "" && b.OrgAccountID != f.OrgAccountID {
			return false
		}
		if f.BillTitle != "" && !containsFold(b.Title, f.BillTitle) {
			return false
		}
	}
	return true
}

func (t *memTx) CashRequests(_ context.Context, f RequestFilter) ([]CashRequest, error) {
	f = f.Normalize()
	out := make([]CashRequest, 0)
	for _, r := range t.st.requests {
		r.HolderRef = t.st.accounts[r.AccountID].HolderRef
		if f.AccountID != "" && r.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Direction != "" && r.Direction != f.Direction {
			continue
		}
		if f.Search != "" && !containsFold(r.ID, f.Search) && !containsFold(r.HolderRef, f.Search) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) OutstandingBills(_ context.Context, payerID, search string) ([]Bill, error) {
	out := make([]Bill, 0)
	for _, b := range t.st.bills {
		if _, paid := t.st.paid[billPayer{bill: b.ID, payer: payerID}]; paid {
			continue
		}
		if search != "" && !containsFold(b.Title, search) && !containsFold(b.Description, search) && !containsFold(b.ID, search) {
			continue
		}
		out = append(out, b)
	}
	sortBills(out)
	return out, nil
}

func (t *memTx) BillPayments(_ context.Context, orgAccountID, billTitle string) ([]BillPayment, error) {
	out := make([]BillPayment, 0)
	for i := len(t.st.entries) - 1; i >= 0; i-- {
		e := t.st.entries[i]
		if e.Kind != EntryBillPayment {
			continue
		}
		b, ok := t.st.bills[e.BillID]
		if !ok || b.OrgAccountID != orgAccountID {
			continue
		}
		if billTitle != "" && !containsFold(b.Title, billTitle) {
			continue
		}
		out = append(out, BillPayment{
			Entry:          e,
			BillTitle:      b.Title,
			PayerHolderRef: t.st.accounts[e.SenderID].HolderRef,
		})
	}
	return out, nil
}

func (t *memTx) HasBillPayment(_ context.Context, billID, payerID string) (bool, error) {
	_, ok := t.st.paid[billPayer{bill: billID, payer: payerID}]
	return ok, nil
}

func (t *memTx) LockAccounts(_ context.Context, ids ...string) (map[string]Account, error) {
	out := make(map[string]Account, len(ids))
	for _, id := range ids {
		a, ok := t.st.accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		out[id] = a
	}
	return out, nil
}

func (t *memTx) LockCashRequest(ctx context.Context, id string) (CashRequest, error) {
	return t.CashRequest(ctx, id)
}

func (t *memTx) AdjustBalance(_ context.Context, accountID string, delta money.Amount) (money.Amount, error) {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	next := a.Balance + delta
	if next < 0 {
		return a.Balance, ErrInsufficientFunds
	}
	a.Balance = next
	t.st.accounts[accountID] = a
	return next, nil
}

func (t *memTx) InsertEntry(_ context.Context, e Entry) error {
	if _, taken := t.st.entryIDs[e.ID]; taken {
		return ErrIDCollision
	}
	if e.Kind == EntryBillPayment {
		key := billPayer{bill: e.BillID, payer: e.SenderID}
		if _, paid := t.st.paid[key]; paid {
			return ErrAlreadyPaid
		}
		t.st.paid[key] = e.ID
	}
	t.st.entryIDs[e.ID] = struct{}{}
	t.st.entries = append(t.st.entries, e)
	return nil
}

func (t *memTx) InsertCashRequest(_ context.Context, r CashRequest) error {
	if _, taken := t.st.requests[r.ID]; taken {
		return ErrIDCollision
	}
	r.HolderRef = ""
	t.st.requests[r.ID] = r
	return nil
}

func (t *memTx) UpdateCashRequest(_ context.Context, r CashRequest) error {
	cur, ok := t.st.requests[r.ID]
	if !ok {
		return ErrRequestNotFound
	}
	if cur.Status != StatusPending {
		return ErrRequestAlreadyProcessed
	}
	r.HolderRef = ""
	t.st.requests[r.ID] = r
	return nil
}

func (t *memTx) InsertBill(_ context.Context, b Bill) error {
	if _, taken := t.st.bills[b.ID]; taken {
		return ErrIDCollision
	}
	t.st.bills[b.ID] = b
	return nil
}

func (t *memTx) InsertAccount(_ context.Context, a Account) error {
	if _, taken := t.st.accounts[a.ID]; taken {
		return ErrIDCollision
	}
	key := holderKey{ref: a.HolderRef, kind: a.Kind}
	if _, taken := t.st.holders[key]; taken {
		return ErrAccountExists
	}
	t.st.accounts[a.ID] = a
	t.st.holders[key] = a.ID
	return nil
}

func sortBills(bills []Bill) {
	sort.Slice(bills, func(i, j int) bool {
		if !bills[i].CreatedAt.Equal(bills[j].CreatedAt) {
			return bills[i].CreatedAt.After(bills[j].CreatedAt)
		}
		return bills[i].ID > bills[j].ID
	})
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
