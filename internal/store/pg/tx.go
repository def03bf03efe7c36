package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/money"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"

	billPayerConstraint  = "ledger_entries_bill_payer_key"
	holderKindConstraint = "accounts_holder_kind_key"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgTx struct {
	q querier
}

var _ ledger.Tx = (*pgTx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, holder_ref, kind, balance, created_at`

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a    ledger.Account
		kind string
	)
	if err := row.Scan(&a.ID, &a.HolderRef, &kind, (*int64)(&a.Balance), &a.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	a.Kind = ledger.AccountKind(kind)
	return a, nil
}

func (t *pgTx) Account(ctx context.Context, id string) (ledger.Account, error) {
	a, err := scanAccount(t.q.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, err
}

func (t *pgTx) AccountByHolder(ctx context.Context, holderRef string, kind ledger.AccountKind) (ledger.Account, error) {
	a, err := scanAccount(t.q.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where holder_ref = $1 and kind = $2`, holderRef, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, err
}

const billColumns = `b.id, b.org_account_id, b.title, b.description, b.amount, b.created_at`

func scanBill(row scanner) (ledger.Bill, error) {
	var b ledger.Bill
	err := row.Scan(&b.ID, &b.OrgAccountID, &b.Title, &b.Description, (*int64)(&b.Amount), &b.CreatedAt)
	return b, err
}

func (t *pgTx) Bill(ctx context.Context, id string) (ledger.Bill, error) {
	b, err := scanBill(t.q.QueryRowContext(ctx,
		`select `+billColumns+` from bills b where b.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Bill{}, ledger.ErrBillNotFound
	}
	return b, err
}

const requestColumns = `r.id, r.account_id, a.holder_ref, r.direction, r.amount, r.status, r.message,
	r.decline_reason, r.requested_at, r.processed_at, r.processed_by, r.settlement_id`

func scanRequest(row scanner) (ledger.CashRequest, error) {
	var (
		r                 ledger.CashRequest
		direction, status string
		processed         sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AccountID, &r.HolderRef, &direction, (*int64)(&r.Amount), &status, &r.Message,
		&r.DeclineReason, &r.RequestedAt, &processed, &r.ProcessedBy, &r.SettlementID)
	if err != nil {
		return ledger.CashRequest{}, err
	}
	r.Direction = ledger.Direction(direction)
	r.Status = ledger.RequestStatus(status)
	if processed.Valid {
		at := processed.Time
		r.ProcessedAt = &at
	}
	return r, nil
}

func (t *pgTx) CashRequest(ctx context.Context, id string) (ledger.CashRequest, error) {
	return t.cashRequest(ctx, id, "")
}

// LockCashRequest takes the row lock that serializes approve/decline races.
func (t *pgTx) LockCashRequest(ctx context.Context, id string) (ledger.CashRequest, error) {
	return t.cashRequest(ctx, id, " for update of r")
}

func (t *pgTx) cashRequest(ctx context.Context, id, lock string) (ledger.CashRequest, error) {
	r, err := scanRequest(t.q.QueryRowContext(ctx, `
		select `+requestColumns+`
		from cash_requests r join accounts a on a.id = r.account_id
		where r.id = $1`+lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CashRequest{}, ledger.ErrRequestNotFound
	}
	return r, err
}

const entryColumns = `e.id, coalesce(e.sender_id, ''), coalesce(e.receiver_id, ''), coalesce(e.bill_id, ''),
	e.amount, e.kind, e.message, e.status, e.created_at`

func scanEntry(row scanner, extra ...any) (ledger.Entry, error) {
	var (
		e    ledger.Entry
		kind string
	)
	dest := append([]any{&e.ID, &e.SenderID, &e.ReceiverID, &e.BillID, (*int64)(&e.Amount), &kind, &e.Message, &e.Status, &e.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return ledger.Entry{}, err
	}
	e.Kind = ledger.EntryKind(kind)
	return e, nil
}

// where accumulates numbered predicates.
type where struct {
	conds []string
	args  []any
}

// add appends cond with its placeholder(s) formatted as $%[1]d.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " where " + strings.Join(w.conds, " and ")
}

func (w *where) limit(n int) string {
	w.args = append(w.args, n)
	return fmt.Sprintf(" limit $%d", len(w.args))
}

// contains builds an ILIKE pattern matching s literally.
func contains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func (t *pgTx) Entries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	f = f.Normalize()
	var w where
	if f.AccountID != "" {
		w.add("(e.sender_id = $%[1]d or e.receiver_id = $%[1]d)", f.AccountID)
	}
	if f.OrgAccountID != "" {
		w.add("b.org_account_id = $%d", f.OrgAccountID)
	}
	if f.SenderID != "" {
		w.add("(e.sender_id = $%[1]d or e.sender_id in (select id from accounts where holder_ref = $%[1]d))", f.SenderID)
	}
	if f.BillTitle != "" {
		w.add("b.title ilike $%d", contains(f.BillTitle))
	}
	if f.Kind != "" {
		w.add("e.kind = $%d", string(f.Kind))
	}
	if f.IDSearch != "" {
		w.add("e.id ilike $%d", contains(f.IDSearch))
	}
	if !f.From.IsZero() {
		w.add("e.created_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		w.add("e.created_at < $%d", f.To.UTC())
	}
	query := `select ` + entryColumns + `
		from ledger_entries e left join bills b on b.id = e.bill_id` +
		w.sql() + ` order by e.created_at desc, e.id desc` + w.limit(f.Limit)

	rows, err := t.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) CashRequests(ctx context.Context, f ledger.RequestFilter) ([]ledger.CashRequest, error) {
	f = f.Normalize()
	var w where
	if f.AccountID != "" {
		w.add("r.account_id = $%d", f.AccountID)
	}
	if f.Status != "" {
		w.add("r.status = $%d", string(f.Status))
	}
	if f.Direction != "" {
		w.add("r.direction = $%d", string(f.Direction))
	}
	if f.Search != "" {
		w.add("(r.id ilike $%[1]d or a.holder_ref ilike $%[1]d)", contains(f.Search))
	}
	query := `select ` + requestColumns + `
		from cash_requests r join accounts a on a.id = r.account_id` +
		w.sql() + ` order by r.requested_at desc, r.id desc` + w.limit(f.Limit)

	rows, err := t.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.CashRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) OutstandingBills(ctx context.Context, payerID, search string) ([]ledger.Bill, error) {
	w := where{conds: []string{`not exists (
			select 1 from ledger_entries e
			where e.kind = 'bill_payment' and e.bill_id = b.id and e.sender_id = $1)`},
		args: []any{payerID}}
	if search != "" {
		w.add("(b.title ilike $%[1]d or b.description ilike $%[1]d or b.id ilike $%[1]d)", contains(search))
	}
	rows, err := t.q.QueryContext(ctx, `select `+billColumns+` from bills b`+
		w.sql()+` order by b.created_at desc, b.id desc`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Bill, 0)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) BillPayments(ctx context.Context, orgAccountID, billTitle string) ([]ledger.BillPayment, error) {
	var w where
	w.add("e.kind = $%d", string(ledger.EntryBillPayment))
	w.add("b.org_account_id = $%d", orgAccountID)
	if billTitle != "" {
		w.add("b.title ilike $%d", contains(billTitle))
	}
	rows, err := t.q.QueryContext(ctx, `select `+entryColumns+`, b.title, coalesce(a.holder_ref, '')
		from ledger_entries e
		join bills b on b.id = e.bill_id
		left join accounts a on a.id = e.sender_id`+
		w.sql()+` order by e.created_at desc, e.id desc`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.BillPayment, 0)
	for rows.Next() {
		var p ledger.BillPayment
		if p.Entry, err = scanEntry(rows, &p.BillTitle, &p.PayerHolderRef); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) HasBillPayment(ctx context.Context, billID, payerID string) (bool, error) {
	var paid bool
	err := t.q.QueryRowContext(ctx, `
		select exists(select 1 from ledger_entries
		where kind = 'bill_payment' and bill_id = $1 and sender_id = $2)`, billID, payerID).Scan(&paid)
	return paid, err
}

// LockAccounts locks rows in sorted id order to avoid deadlocks between
// transfers running in opposite directions.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...string) (map[string]ledger.Account, error) {
	out := make(map[string]ledger.Account, len(ids))
	for _, id := range sorted(ids...) {
		a, err := scanAccount(t.q.QueryRowContext(ctx,
			`select `+accountColumns+` from accounts where id = $1 for update`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, accountID string, delta money.Amount) (money.Amount, error) {
	var balance int64
	err := t.q.QueryRowContext(ctx,
		`update accounts set balance = balance + $2 where id = $1 returning balance`,
		accountID, delta.Minor()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrAccountNotFound
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == checkViolation {
		return 0, ledger.ErrInsufficientFunds
	}
	if err != nil {
		return 0, err
	}
	return money.Amount(balance), nil
}

// insertReturning runs an insert ending in "on conflict (id) do nothing
// returning id"; no returned row means the id was taken.
func (t *pgTx) insertReturning(ctx context.Context, query string, args ...any) error {
	var id string
	err := t.q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrIDCollision
	}
	return err
}

func (t *pgTx) InsertEntry(ctx context.Context, e ledger.Entry) error {
	err := t.insertReturning(ctx, `
		insert into ledger_entries (id, sender_id, receiver_id, bill_id, amount, kind, message, status, created_at)
		values ($1, nullif($2, ''), nullif($3, ''), nullif($4, ''), $5, $6, $7, $8, $9)
		on conflict (id) do nothing returning id`,
		e.ID, e.SenderID, e.ReceiverID, e.BillID, e.Amount.Minor(), string(e.Kind), e.Message, e.Status, e.CreatedAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == uniqueViolation && pgErr.ConstraintName == billPayerConstraint {
		return ledger.ErrAlreadyPaid
	}
	return err
}

func (t *pgTx) InsertCashRequest(ctx context.Context, r ledger.CashRequest) error {
	return t.insertReturning(ctx, `
		insert into cash_requests (id, account_id, direction, amount, status, message, requested_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (id) do nothing returning id`,
		r.ID, r.AccountID, string(r.Direction), r.Amount.Minor(), string(r.Status), r.Message, r.RequestedAt.UTC())
}

// UpdateCashRequest only touches a still-pending row.
func (t *pgTx) UpdateCashRequest(ctx context.Context, r ledger.CashRequest) error {
	var processed any
	if r.ProcessedAt != nil {
		processed = r.ProcessedAt.UTC()
	}
	res, err := t.q.ExecContext(ctx, `
		update cash_requests
		set status = $2, decline_reason = $3, processed_at = $4, processed_by = $5, settlement_id = $6
		where id = $1 and status = 'pending'`,
		r.ID, string(r.Status), r.DeclineReason, processed, r.ProcessedBy, r.SettlementID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrRequestAlreadyProcessed
	}
	return nil
}

func (t *pgTx) InsertBill(ctx context.Context, b ledger.Bill) error {
	return t.insertReturning(ctx, `
		insert into bills (id, org_account_id, title, description, amount, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (id) do nothing returning id`,
		b.ID, b.OrgAccountID, b.Title, b.Description, b.Amount.Minor(), b.CreatedAt.UTC())
}

func (t *pgTx) InsertAccount(ctx context.Context, a ledger.Account) error {
	err := t.insertReturning(ctx, `
		insert into accounts (id, holder_ref, kind, balance, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (id) do nothing returning id`,
		a.ID, a.HolderRef, string(a.Kind), a.Balance.Minor(), a.CreatedAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == uniqueViolation && pgErr.ConstraintName == holderKindConstraint {
		return ledger.ErrAccountExists
	}
	return err
}

func sorted(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
