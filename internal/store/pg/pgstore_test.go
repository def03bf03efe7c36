package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/money"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Options{Timeout: time.Second}), mock
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "holder_ref", "kind", "balance", "created_at"})
}

func TestAtomicCommits(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("insert into bills")).
		WithArgs("BILL-1", "ACC-ORG", "Dues", "", int64(15000), t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("BILL-1"))
	mock.ExpectCommit()

	err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertBill(ctx, ledger.Bill{
			ID: "BILL-1", OrgAccountID: "ACC-ORG", Title: "Dues",
			Amount: money.MustParse("150"), CreatedAt: t0,
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicRollsBackOnDomainError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), func(context.Context, ledger.Tx) error {
		return ledger.ErrInsufficientFunds
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.NotErrorIs(t, err, ledger.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicSlowQueryIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, Options{Timeout: 20 * time.Millisecond})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("for update")).
		WillDelayFor(time.Second).
		WillReturnRows(accountRows())

	err = s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccounts(ctx, "ACC-A")
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestSnapshotIsReadOnly(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("from accounts where id = $1")).
		WithArgs("ACC-A").
		WillReturnRows(accountRows().AddRow("ACC-A", "2021-0001", "personal", int64(500), t0))
	mock.ExpectCommit()

	var got ledger.Account
	err := s.Snapshot(context.Background(), func(ctx context.Context, r ledger.Reader) error {
		var err error
		got, err = r.Account(ctx, "ACC-A")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, money.FromMinor(500), got.Balance)
	assert.Equal(t, ledger.KindPersonal, got.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAccountsSortedOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}

	for _, id := range []string{"ACC-A", "ACC-B"} {
		mock.ExpectQuery(regexp.QuoteMeta("from accounts where id = $1 for update")).
			WithArgs(id).
			WillReturnRows(accountRows().AddRow(id, "h-"+id, "personal", int64(0), t0))
	}

	got, err := tx.LockAccounts(context.Background(), "ACC-B", "ACC-A", "ACC-B")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAccountsMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}

	mock.ExpectQuery(regexp.QuoteMeta("for update")).WithArgs("ACC-X").WillReturnRows(accountRows())
	_, err = tx.LockAccounts(context.Background(), "ACC-X")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestAdjustBalanceCheckViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}

	mock.ExpectQuery(regexp.QuoteMeta("update accounts set balance = balance + $2")).
		WithArgs("ACC-A", int64(-100)).
		WillReturnError(&pgconn.PgError{Code: checkViolation, ConstraintName: "accounts_balance_non_negative"})
	_, err = tx.AdjustBalance(context.Background(), "ACC-A", money.FromMinor(-100))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	mock.ExpectQuery(regexp.QuoteMeta("update accounts")).
		WithArgs("ACC-A", int64(250)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(350)))
	bal, err := tx.AdjustBalance(context.Background(), "ACC-A", money.FromMinor(250))
	require.NoError(t, err)
	assert.Equal(t, money.FromMinor(350), bal)
}

func TestInsertEntryConflicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}
	e := ledger.Entry{
		ID: "TRNX-1", SenderID: "ACC-A", ReceiverID: "ACC-ORG", BillID: "BILL-1",
		Amount: money.FromMinor(100), Kind: ledger.EntryBillPayment, Status: ledger.EntryCompleted, CreatedAt: t0,
	}

	mock.ExpectQuery(regexp.QuoteMeta("insert into ledger_entries")).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: billPayerConstraint})
	assert.ErrorIs(t, tx.InsertEntry(context.Background(), e), ledger.ErrAlreadyPaid)

	mock.ExpectQuery(regexp.QuoteMeta("on conflict (id) do nothing returning id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	assert.ErrorIs(t, tx.InsertEntry(context.Background(), e), ledger.ErrIDCollision)

	mock.ExpectQuery(regexp.QuoteMeta("insert into ledger_entries")).
		WithArgs("TRNX-1", "ACC-A", "ACC-ORG", "BILL-1", int64(100), "bill_payment", "", "completed", t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("TRNX-1"))
	assert.NoError(t, tx.InsertEntry(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAccountDuplicateHolder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}

	mock.ExpectQuery(regexp.QuoteMeta("insert into accounts")).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: holderKindConstraint})
	err = tx.InsertAccount(context.Background(), ledger.Account{ID: "ACC-1", HolderRef: "2021-0001", Kind: ledger.KindPersonal, CreatedAt: t0})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestUpdateCashRequestOnlyWhilePending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}
	at := t0.Add(time.Hour)
	r := ledger.CashRequest{ID: "REQ-1", Status: ledger.StatusApproved, ProcessedAt: &at, ProcessedBy: "finance", SettlementID: "TRNX-9"}

	mock.ExpectExec(regexp.QuoteMeta("where id = $1 and status = 'pending'")).
		WithArgs("REQ-1", "approved", "", at, "finance", "TRNX-9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, tx.UpdateCashRequest(context.Background(), r), ledger.ErrRequestAlreadyProcessed)

	mock.ExpectExec(regexp.QuoteMeta("update cash_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, tx.UpdateCashRequest(context.Background(), r))
}

func TestLockCashRequestScansNullableProcessedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}

	cols := []string{"id", "account_id", "holder_ref", "direction", "amount", "status", "message",
		"decline_reason", "requested_at", "processed_at", "processed_by", "settlement_id"}
	mock.ExpectQuery(regexp.QuoteMeta("where r.id = $1 for update of r")).
		WithArgs("REQ-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("REQ-1", "ACC-A", "2021-0001", "in", int64(5000), "pending", "allowance", "", t0, nil, "", ""))

	r, err := tx.LockCashRequest(context.Background(), "REQ-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, r.Status)
	assert.Equal(t, ledger.DirectionIn, r.Direction)
	assert.Nil(t, r.ProcessedAt)

	mock.ExpectQuery(regexp.QuoteMeta("from cash_requests r")).WithArgs("REQ-404").WillReturnRows(sqlmock.NewRows(cols))
	_, err = tx.CashRequest(context.Background(), "REQ-404")
	assert.ErrorIs(t, err, ledger.ErrRequestNotFound)
}

func TestEntriesFilterPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}

	mock.ExpectQuery(regexp.QuoteMeta("where (e.sender_id = $1 or e.receiver_id = $1) and b.title ilike $2 and e.created_at >= $3")).
		WithArgs("ACC-A", `%dues\_2026%`, t0, ledger.DefaultHistoryLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender", "receiver", "bill", "amount", "kind", "message", "status", "created_at"}).
			AddRow("TRNX-1", "ACC-A", "", "", int64(100), "transfer", "", "completed", t0))

	got, err := tx.Entries(context.Background(), ledger.EntryFilter{AccountID: "ACC-A", BillTitle: "dues_2026", From: t0})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ledger.EntryTransfer, got[0].Kind)
	assert.Empty(t, got[0].ReceiverID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntriesSenderFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	tx := &pgTx{q: db}

	mock.ExpectQuery(regexp.QuoteMeta("where b.org_account_id = $1 and (e.sender_id = $2 or e.sender_id in (select id from accounts where holder_ref = $2))")).
		WithArgs("ACC-ORG", "2021-0001", ledger.DefaultHistoryLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender", "receiver", "bill", "amount", "kind", "message", "status", "created_at"}).
			AddRow("TRNX-2", "ACC-A", "ACC-ORG", "BILL-1", int64(10000), "bill_payment", "", "completed", t0))

	got, err := tx.Entries(context.Background(), ledger.EntryFilter{OrgAccountID: "ACC-ORG", SenderID: "2021-0001"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BILL-1", got[0].BillID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContainsEscapesWildcards(t *testing.T) {
	assert.Equal(t, `%50\%\_off\\%`, contains(`50%_off\`))
}
