package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuswallet.org/internal/auth"
)

func TestVerificationPutIfAllowed(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	rec := auth.VerificationRecord{
		HolderRef: "2021-0001", CodeHash: "hash",
		ExpiresAt: t0.Add(5 * time.Minute), LastSentAt: t0,
	}
	cutoff := t0.Add(-30 * time.Second)
	upsert := regexp.QuoteMeta("where verification_codes.last_sent_at <= $5")

	mock.ExpectQuery(upsert).
		WithArgs("2021-0001", "hash", rec.ExpiresAt, t0, cutoff, 5).
		WillReturnRows(sqlmock.NewRows([]string{"resend_count"}).AddRow(0))
	require.NoError(t, s.PutIfAllowed(ctx, rec, cutoff, 5))

	mock.ExpectQuery(upsert).
		WithArgs("2021-0001", "hash", rec.ExpiresAt, t0, cutoff, 5).
		WillReturnRows(sqlmock.NewRows([]string{"resend_count"}))
	mock.ExpectQuery(regexp.QuoteMeta("select resend_count from verification_codes where holder_ref = $1")).
		WithArgs("2021-0001").
		WillReturnRows(sqlmock.NewRows([]string{"resend_count"}).AddRow(2))
	assert.ErrorIs(t, s.PutIfAllowed(ctx, rec, cutoff, 5), auth.ErrResendCooldown)

	mock.ExpectQuery(upsert).
		WithArgs("2021-0001", "hash", rec.ExpiresAt, t0, cutoff, 5).
		WillReturnRows(sqlmock.NewRows([]string{"resend_count"}))
	mock.ExpectQuery(regexp.QuoteMeta("select resend_count from verification_codes where holder_ref = $1")).
		WithArgs("2021-0001").
		WillReturnRows(sqlmock.NewRows([]string{"resend_count"}).AddRow(5))
	assert.ErrorIs(t, s.PutIfAllowed(ctx, rec, cutoff, 5), auth.ErrResendLimit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationClaimAttempt(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	claim := regexp.QuoteMeta("update verification_codes set attempts = attempts + 1")
	cols := []string{"holder_ref", "code_hash", "expires_at", "last_sent_at", "resend_count", "attempts"}

	mock.ExpectQuery(claim).
		WithArgs("2021-0001", 5).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("2021-0001", "hash", t0.Add(5*time.Minute), t0, 1, 3))
	rec, err := s.ClaimAttempt(ctx, "2021-0001", 5)
	require.NoError(t, err)
	assert.Equal(t, "hash", rec.CodeHash)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 1, rec.ResendCount)

	mock.ExpectQuery(claim).
		WithArgs("2021-0001", 5).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from verification_codes where holder_ref = $1)")).
		WithArgs("2021-0001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	_, err = s.ClaimAttempt(ctx, "2021-0001", 5)
	assert.ErrorIs(t, err, auth.ErrTooManyAttempts)

	mock.ExpectQuery(claim).
		WithArgs("2021-0002", 5).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(regexp.QuoteMeta("select exists(select 1 from verification_codes where holder_ref = $1)")).
		WithArgs("2021-0002").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = s.ClaimAttempt(ctx, "2021-0002", 5)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationConsumeAndSweep(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("delete from verification_codes where holder_ref = $1")).
		WithArgs("2021-0001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.Consume(context.Background(), "2021-0001")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta("delete from verification_codes where holder_ref = $1")).
		WithArgs("2021-0001").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.Consume(context.Background(), "2021-0001")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta("where expires_at < $1")).
		WithArgs(t0).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := s.DeleteExpired(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
