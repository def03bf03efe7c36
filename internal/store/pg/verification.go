package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campuswallet.org/internal/auth"
)

var _ auth.VerificationStore = (*Store)(nil)

// PutIfAllowed inserts the holder's code, or replaces it when the stored row
// passes the resend policy. The check and the write are one statement so
// concurrent resends cannot both pass the cooldown.
func (s *Store) PutIfAllowed(ctx context.Context, rec auth.VerificationRecord, sentBefore time.Time, maxResends int) error {
	return s.guard.Write(ctx, func(ctx context.Context) error {
		var resends int
		err := s.db.QueryRowContext(ctx, `
			insert into verification_codes (holder_ref, code_hash, expires_at, last_sent_at, resend_count, attempts)
			values ($1, $2, $3, $4, 0, 0)
			on conflict (holder_ref) do update set
				code_hash = excluded.code_hash,
				expires_at = excluded.expires_at,
				last_sent_at = excluded.last_sent_at,
				resend_count = verification_codes.resend_count + 1,
				attempts = 0
			where verification_codes.last_sent_at <= $5
				and verification_codes.resend_count < $6
			returning resend_count`,
			rec.HolderRef, rec.CodeHash, rec.ExpiresAt.UTC(), rec.LastSentAt.UTC(), sentBefore.UTC(), maxResends).
			Scan(&resends)
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		// the row exists and the policy refused the resend
		err = s.db.QueryRowContext(ctx,
			`select resend_count from verification_codes where holder_ref = $1`, rec.HolderRef).
			Scan(&resends)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return auth.ErrResendCooldown
		case err != nil:
			return err
		case resends >= maxResends:
			return auth.ErrResendLimit
		default:
			return auth.ErrResendCooldown
		}
	})
}

// ClaimAttempt spends one verification try and returns the row it was spent on.
func (s *Store) ClaimAttempt(ctx context.Context, holderRef string, maxAttempts int) (auth.VerificationRecord, error) {
	var rec auth.VerificationRecord
	err := s.guard.Write(ctx, func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, `
			update verification_codes set attempts = attempts + 1
			where holder_ref = $1 and attempts < $2
			returning holder_ref, code_hash, expires_at, last_sent_at, resend_count, attempts`,
			holderRef, maxAttempts).
			Scan(&rec.HolderRef, &rec.CodeHash, &rec.ExpiresAt, &rec.LastSentAt, &rec.ResendCount, &rec.Attempts)
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from verification_codes where holder_ref = $1)`, holderRef).
			Scan(&exists); err != nil {
			return err
		}
		if exists {
			return auth.ErrTooManyAttempts
		}
		return auth.ErrNotFound
	})
	if err != nil {
		return auth.VerificationRecord{}, err
	}
	return rec, nil
}

// Consume deletes the holder's code; only one concurrent caller sees true.
func (s *Store) Consume(ctx context.Context, holderRef string) (bool, error) {
	var n int64
	err := s.guard.Write(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `delete from verification_codes where holder_ref = $1`, holderRef)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

func (s *Store) DeleteExpired(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := s.guard.Write(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `delete from verification_codes where expires_at < $1`, t.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
